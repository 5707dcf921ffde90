package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/liamcoop/compliance/internal/config"
	"github.com/liamcoop/compliance/internal/logger"
	"github.com/liamcoop/compliance/internal/metrics"
	"github.com/liamcoop/compliance/internal/watch"
	"github.com/liamcoop/compliance/multitenantengine"
	"github.com/liamcoop/compliance/rules"
	"github.com/liamcoop/compliance/rules/condition"
)

type Server struct {
	db            *sql.DB
	cfg           *config.Config
	engineManager *multitenantengine.MultiTenantEngineManager
	metrics       *metrics.Collector
	router        *chi.Mux
}

// NewServer opens the database named by cfg.DatabaseURL, if any, and builds
// the server
func NewServer(cfg *config.Config) (*Server, error) {
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	} else {
		logger.Warn("DATABASE_URL not set, tenants and custom rules are kept in memory")
	}

	return NewServerWithDB(cfg, db)
}

// NewServerWithDB builds the server around an open database. A nil db runs
// with in-memory tenant stores.
func NewServerWithDB(cfg *config.Config, db *sql.DB) (*Server, error) {
	collector := metrics.NewCollector(cfg.MetricsNamespace, nil)

	engineManager := multitenantengine.NewMultiTenantEngineManager(db,
		multitenantengine.WithEngineOptions(rules.WithParallelism(cfg.EvalParallelism)),
		multitenantengine.WithReloadHook(func(tenantID string, te *multitenantengine.TenantEngine, err error) {
			if err != nil {
				collector.RecordReload(tenantID, 0, err)
				logger.Error("tenant engine build failed", "tenant_id", tenantID, "error", err)
				return
			}
			collector.RecordReload(tenantID, te.Engine.Catalog().Len(), nil)
			for _, d := range te.Engine.CompileErrors() {
				logger.Diagnostic(tenantID, d.RuleID, d.Kind, d.Err)
			}
		}),
	)

	s := &Server{
		db:            db,
		cfg:           cfg,
		engineManager: engineManager,
		metrics:       collector,
	}

	if cfg.RulesFile != "" {
		if err := s.loadSharedRules(); err != nil {
			return nil, err
		}
	}

	logger.Info("Loading tenants from database...")
	n, err := engineManager.LoadAllTenants()
	if err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}
	logger.Info("Loaded tenants", "count", n, "tenants", engineManager.ListTenants())

	s.setupRoutes()

	return s, nil
}

// loadSharedRules reads cfg.RulesFile and installs it for every tenant
func (s *Server) loadSharedRules() error {
	shared, err := rules.LoadRulesFile(s.cfg.RulesFile)
	if err != nil {
		return err
	}
	if err := multitenantengine.ValidateRules(shared); err != nil {
		return fmt.Errorf("%s: %w", s.cfg.RulesFile, err)
	}
	if err := s.engineManager.SetSharedRules(shared); err != nil {
		return err
	}
	logger.Info("Loaded shared rules", "path", s.cfg.RulesFile, "count", len(shared))
	return nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.instrument)

	// Health check and metrics
	r.Get("/api/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// Evaluation
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	// Shared rules
	r.Get("/api/v1/shared-rules", s.handleListSharedRules)
	r.Post("/api/v1/shared-rules/reload", s.handleReloadSharedRules)

	// Tenant management
	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Get("/", s.handleListTenants)
		r.Post("/", s.handleCreateTenant)

		r.Route("/{tenantId}", func(r chi.Router) {
			r.Get("/", s.handleGetTenant)
			r.Delete("/", s.handleUnloadTenant)
			r.Post("/reload", s.handleReloadTenant)
			r.Get("/catalog", s.handleGetCatalog)

			// Custom rule management
			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// instrument logs and counts every response by route pattern
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.RecordHTTP(route, status)

		attrs := []any{
			"method", r.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		}
		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
			logger.Logger.Error("request failed", attrs...)
		case status >= 400:
			logger.WarnHttp4xx()
			logger.Debug("request rejected", attrs...)
		default:
			logger.Debug("request", attrs...)
		}
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		TenantsLoaded: len(s.engineManager.ListTenants()),
		SharedRules:   len(s.engineManager.SharedRules()),
	}

	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.TenantID == "" {
		respondError(w, http.StatusBadRequest, "tenantId is required", nil)
		return
	}
	if req.Context != nil && req.Facts != nil {
		respondError(w, http.StatusBadRequest, "context and facts are mutually exclusive", nil)
		return
	}

	dc, err := requestContext(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid data context", err)
		return
	}

	// Get tenant's engine
	engine, err := s.engineManager.GetEngine(req.TenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	if req.Selector != "" || req.At != nil {
		engine, err = s.narrow(engine, req)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid selector", err)
			return
		}
	}

	startTime := time.Now()
	report, diags := engine.EvaluateCompliance(dc)
	evaluationTime := time.Since(startTime)

	s.metrics.RecordEvaluation(req.TenantID, report, diags, evaluationTime)
	for _, d := range diags {
		logger.Diagnostic(req.TenantID, d.RuleID, d.Kind, d.Err)
	}

	resp := EvaluateResponse{
		TenantID:       req.TenantID,
		Report:         report,
		Diagnostics:    diags,
		EvaluationTime: evaluationTime.String(),
	}
	if resp.Diagnostics == nil {
		resp.Diagnostics = rules.Diagnostics{}
	}
	if req.Advise {
		resp.AutoFixes = rules.AdviseReport(report, engine.Catalog())
		resp.ComponentsToInsert = rules.ComponentsToInsert(resp.AutoFixes)
	}

	respondJSON(w, http.StatusOK, resp)
}

func requestContext(req EvaluateRequest) (condition.Context, error) {
	if req.Facts != nil {
		return req.Facts.Context()
	}
	return condition.NewContext(req.Context)
}

// narrow builds a request-scoped engine over the selected part of the catalog
func (s *Server) narrow(engine *rules.Engine, req EvaluateRequest) (*rules.Engine, error) {
	cat := engine.Catalog()
	if req.At != nil {
		cat = cat.ActiveAt(*req.At)
	}
	if req.Selector != "" {
		var err error
		cat, err = cat.SelectExpr(req.Selector)
		if err != nil {
			return nil, err
		}
	}
	return s.engineManager.EngineFor(cat)
}

// List shared rules handler
func (s *Server) handleListSharedRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"path":  s.cfg.RulesFile,
		"rules": s.engineManager.SharedRules(),
	})
}

// Reload shared rules handler
func (s *Server) handleReloadSharedRules(w http.ResponseWriter, r *http.Request) {
	if s.cfg.RulesFile == "" {
		respondError(w, http.StatusConflict, "no rules file configured", nil)
		return
	}
	if err := s.loadSharedRules(); err != nil {
		respondError(w, statusFor(err), "failed to reload shared rules", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sharedRules": len(s.engineManager.SharedRules()),
	})
}

// List tenants handler
func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants := []TenantResponse{}
	for _, id := range s.engineManager.ListTenants() {
		te, err := s.engineManager.GetTenant(id)
		if err != nil {
			// unloaded concurrently
			continue
		}
		tenants = append(tenants, tenantResponse(te))
	}

	respondJSON(w, http.StatusOK, TenantsListResponse{Tenants: tenants})
}

func tenantResponse(te *multitenantengine.TenantEngine) TenantResponse {
	return TenantResponse{
		ID:           te.TenantID,
		CatalogRules: te.Engine.Catalog().Len(),
		CustomRules:  te.CustomRules,
		LoadedAt:     te.LoadedAt,
	}
}

// Create tenant handler
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	tenantID, err := s.engineManager.RegisterTenant(req.Name)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create tenant", err)
		return
	}

	te, err := s.engineManager.GetTenant(tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load tenant", err)
		return
	}

	resp := tenantResponse(te)
	resp.Name = req.Name
	respondJSON(w, http.StatusCreated, resp)
}

// Get tenant handler
func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	te, err := s.engineManager.GetTenant(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}
	respondJSON(w, http.StatusOK, tenantResponse(te))
}

// Unload tenant handler
// Note: This does not delete the tenant from the database
func (s *Server) handleUnloadTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	if err := s.engineManager.DeleteTenant(tenantID); err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}
	s.metrics.ForgetTenant(tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// Reload tenant handler
func (s *Server) handleReloadTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	if err := s.engineManager.ReloadTenant(tenantID); err != nil {
		respondError(w, statusFor(err), "failed to reload tenant", err)
		return
	}
	s.handleGetTenant(w, r)
}

// Get catalog handler. Accepts ?category=, ?blocking=true and ?select=<cel>.
func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	engine, err := s.engineManager.GetEngine(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	cat := engine.Catalog()
	if expr := r.URL.Query().Get("select"); expr != "" {
		cat, err = cat.SelectExpr(expr)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid selector", err)
			return
		}
	}

	var list []rules.ComplianceRule
	switch {
	case r.URL.Query().Get("category") != "":
		list = cat.ByCategory(rules.Category(r.URL.Query().Get("category")))
	case r.URL.Query().Get("blocking") == "true":
		list = cat.BlockingRules()
	default:
		list = cat.Rules()
	}
	if list == nil {
		list = []rules.ComplianceRule{}
	}

	respondJSON(w, http.StatusOK, CatalogResponse{TenantID: tenantID, Rules: list})
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req RuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	store, err := s.engineManager.Store(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	rule := req.ComplianceRule
	if rule.ID == "" {
		rule.ID = "custom-" + uuid.NewString()
	}
	if err := multitenantengine.ValidateRules([]rules.ComplianceRule{rule}); err != nil {
		respondError(w, statusFor(err), "invalid rule", err)
		return
	}

	custom := &rules.CustomRule{ComplianceRule: rule, Active: req.Active == nil || *req.Active}
	if err := store.Add(custom); err != nil {
		respondError(w, statusFor(err), "failed to add rule", err)
		return
	}

	// The rule may still collide with a shared rule; undo the insert if the
	// tenant catalog cannot be rebuilt
	if err := s.engineManager.ReloadTenant(tenantID); err != nil {
		if derr := store.Delete(rule.ID); derr != nil {
			logger.Error("failed to roll back rule", "tenant_id", tenantID, "rule_id", rule.ID, "error", derr)
		}
		respondError(w, statusFor(err), "failed to add rule", err)
		return
	}

	created, err := store.Get(rule.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	store, err := s.engineManager.Store(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	list, err := store.ListActive()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.CustomRule{}
	}

	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	store, err := s.engineManager.Store(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	rule, err := store.Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, statusFor(err), "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	var req RuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID != "" && req.ID != ruleID {
		respondError(w, http.StatusBadRequest, "rule id cannot be changed", nil)
		return
	}

	store, err := s.engineManager.Store(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	previous, err := store.Get(ruleID)
	if err != nil {
		respondError(w, statusFor(err), "rule not found", err)
		return
	}

	rule := req.ComplianceRule
	rule.ID = ruleID
	if err := multitenantengine.ValidateRules([]rules.ComplianceRule{rule}); err != nil {
		respondError(w, statusFor(err), "invalid rule", err)
		return
	}

	active := previous.Active
	if req.Active != nil {
		active = *req.Active
	}
	if err := store.Update(&rules.CustomRule{ComplianceRule: rule, Active: active}); err != nil {
		respondError(w, statusFor(err), "failed to update rule", err)
		return
	}

	if err := s.engineManager.ReloadTenant(tenantID); err != nil {
		if rerr := store.Update(previous); rerr != nil {
			logger.Error("failed to roll back rule", "tenant_id", tenantID, "rule_id", ruleID, "error", rerr)
		}
		respondError(w, statusFor(err), "failed to update rule", err)
		return
	}

	updated, err := store.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read rule", err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	store, err := s.engineManager.Store(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	if err := store.Delete(ruleID); err != nil {
		respondError(w, statusFor(err), "rule not found", err)
		return
	}

	if err := s.engineManager.ReloadTenant(tenantID); err != nil {
		respondError(w, statusFor(err), "failed to reload tenant", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, multitenantengine.ErrTenantNotFound), errors.Is(err, rules.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrRuleExists), errors.Is(err, rules.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, rules.ErrInvalidRule):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Helper functions
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logger.Setup(cfg.Log.LoggerOptions()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Shutdown(context.Background())

	// Create server
	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WatchRules {
		fw, err := watch.New(cfg.RulesFile, 0)
		if err != nil {
			logger.Fatal("Failed to watch rules file", "error", err)
		}
		go func() {
			if err := fw.Run(ctx, server.loadSharedRules); err != nil {
				logger.Error("rules watcher stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
