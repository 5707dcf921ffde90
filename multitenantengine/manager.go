package multitenantengine

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/compliance/rules"
)

// ErrTenantNotFound is returned for tenants the manager has not loaded
var ErrTenantNotFound = errors.New("tenant not found")

// StoreFactory returns the custom rule store for a tenant. It is called once
// per tenant, when the tenant is first loaded.
type StoreFactory func(tenantID string) rules.RuleStore

// PostgresStores stores custom rules in the compliance_rules table
func PostgresStores(db *sql.DB) StoreFactory {
	return func(tenantID string) rules.RuleStore {
		return rules.NewPostgresRuleStore(db, tenantID)
	}
}

// InMemoryStores gives every tenant its own in-memory store
func InMemoryStores() StoreFactory {
	return func(string) rules.RuleStore {
		return rules.NewInMemoryRuleStore()
	}
}

// TenantEngine wraps a rules.Engine with tenant-specific metadata. A
// TenantEngine is never modified after creation; reloads swap in a new one.
type TenantEngine struct {
	TenantID    string
	Engine      *rules.Engine
	CustomRules int
	LoadedAt    time.Time
}

// MultiTenantEngineManager manages engines for all tenants. Each tenant's
// catalog is the built-in rules, then the shared rules, then that tenant's
// active custom rules.
type MultiTenantEngineManager struct {
	engines    map[string]*TenantEngine
	stores     map[string]rules.RuleStore
	builds     map[string]*sync.Mutex // serializes read-build-install per tenant
	shared     []rules.ComplianceRule
	newStore   StoreFactory
	cache      rules.ProgramCache
	engineOpts []rules.EngineOption
	onReload   ReloadHook
	db         *sql.DB
	mu         sync.RWMutex
}

// ReloadHook observes every engine build. te is nil when err is non-nil.
type ReloadHook func(tenantID string, te *TenantEngine, err error)

// ManagerOption configures NewMultiTenantEngineManager
type ManagerOption func(*MultiTenantEngineManager)

// WithStoreFactory overrides where custom rules are kept
func WithStoreFactory(f StoreFactory) ManagerOption {
	return func(m *MultiTenantEngineManager) { m.newStore = f }
}

// WithEngineOptions passes options to every tenant engine
func WithEngineOptions(opts ...rules.EngineOption) ManagerOption {
	return func(m *MultiTenantEngineManager) { m.engineOpts = append(m.engineOpts, opts...) }
}

// WithProgramCache replaces the default shared program cache
func WithProgramCache(c rules.ProgramCache) ManagerOption {
	return func(m *MultiTenantEngineManager) { m.cache = c }
}

// WithReloadHook registers a function called after each tenant engine build
func WithReloadHook(h ReloadHook) ManagerOption {
	return func(m *MultiTenantEngineManager) { m.onReload = h }
}

// NewMultiTenantEngineManager creates a new manager instance. With a nil db,
// tenants live only in memory and custom rules use in-memory stores.
func NewMultiTenantEngineManager(db *sql.DB, opts ...ManagerOption) *MultiTenantEngineManager {
	m := &MultiTenantEngineManager{
		engines: make(map[string]*TenantEngine),
		stores:  make(map[string]rules.RuleStore),
		builds:  make(map[string]*sync.Mutex),
		db:      db,
		cache:   rules.NewInMemoryProgramCache(rules.DefaultCacheConfig()),
	}
	if db != nil {
		m.newStore = PostgresStores(db)
	} else {
		m.newStore = InMemoryStores()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadAllTenants loads all active tenants from the database and initializes
// their engines
func (m *MultiTenantEngineManager) LoadAllTenants() (int, error) {
	if m.db == nil {
		return 0, nil
	}

	rows, err := m.db.Query(`
		SELECT id
		FROM tenants
		WHERE active = true
		ORDER BY id
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return 0, fmt.Errorf("failed to scan tenant row: %w", err)
		}
		ids = append(ids, tenantID)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating tenant rows: %w", err)
	}

	for _, tenantID := range ids {
		if err := m.CreateTenant(tenantID); err != nil {
			return 0, fmt.Errorf("failed to initialize tenant %s: %w", tenantID, err)
		}
	}
	return len(ids), nil
}

// RegisterTenant records a new tenant and loads its engine. The id is
// generated.
func (m *MultiTenantEngineManager) RegisterTenant(name string) (string, error) {
	tenantID := uuid.NewString()
	if m.db != nil {
		_, err := m.db.Exec(`
			INSERT INTO tenants (id, name, active, created_at)
			VALUES ($1, $2, true, NOW())
		`, tenantID, name)
		if err != nil {
			return "", fmt.Errorf("failed to insert tenant: %w", err)
		}
	}
	if err := m.CreateTenant(tenantID); err != nil {
		return "", err
	}
	return tenantID, nil
}

// CreateTenant builds an engine for tenantID from its store and installs it
func (m *MultiTenantEngineManager) CreateTenant(tenantID string) error {
	build := m.buildLock(tenantID)
	build.Lock()
	defer build.Unlock()

	m.mu.Lock()
	store, ok := m.stores[tenantID]
	if !ok {
		store = m.newStore(tenantID)
		m.stores[tenantID] = store
	}
	shared := m.shared
	m.mu.Unlock()

	te, err := m.buildEngine(tenantID, store, shared)
	m.notify(tenantID, te, err)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.engines[tenantID] = te
	m.mu.Unlock()
	return nil
}

// buildLock returns the mutex that orders engine builds for tenantID. A build
// reads the store and the shared rules and installs its engine while holding
// it, so an older snapshot can never replace a newer one.
func (m *MultiTenantEngineManager) buildLock(tenantID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.builds[tenantID]
	if !ok {
		l = &sync.Mutex{}
		m.builds[tenantID] = l
	}
	return l
}

func (m *MultiTenantEngineManager) notify(tenantID string, te *TenantEngine, err error) {
	if m.onReload != nil {
		m.onReload(tenantID, te, err)
	}
}

func (m *MultiTenantEngineManager) buildEngine(tenantID string, store rules.RuleStore, shared []rules.ComplianceRule) (*TenantEngine, error) {
	custom, err := rules.ActiveComplianceRules(store)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	all := make([]rules.ComplianceRule, 0, len(shared)+len(custom))
	all = append(all, shared...)
	all = append(all, custom...)

	cat, err := rules.NewCatalog(all)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}

	engine, err := m.EngineFor(cat)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &TenantEngine{
		TenantID:    tenantID,
		Engine:      engine,
		CustomRules: len(custom),
		LoadedAt:    time.Now(),
	}, nil
}

// EngineFor builds an engine over cat with the manager's program cache and
// engine options. Request-scoped sub-catalogs go through here so they share
// compiled conditions with the tenant engines.
func (m *MultiTenantEngineManager) EngineFor(cat *rules.Catalog) (*rules.Engine, error) {
	opts := append([]rules.EngineOption{rules.WithProgramCache(m.cache)}, m.engineOpts...)
	return rules.NewEngine(cat, opts...)
}

// GetEngine retrieves the engine for a specific tenant
func (m *MultiTenantEngineManager) GetEngine(tenantID string) (*rules.Engine, error) {
	te, err := m.GetTenant(tenantID)
	if err != nil {
		return nil, err
	}
	return te.Engine, nil
}

// GetTenant retrieves the engine and its metadata for a tenant
func (m *MultiTenantEngineManager) GetTenant(tenantID string) (*TenantEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	te, exists := m.engines[tenantID]
	if !exists {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	return te, nil
}

// Store returns the custom rule store of a loaded tenant
func (m *MultiTenantEngineManager) Store(tenantID string) (rules.RuleStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.engines[tenantID]; !exists {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	return m.stores[tenantID], nil
}

// ReloadTenant rebuilds a tenant's engine from its store and atomically swaps
// it in. On failure the previous engine keeps serving.
func (m *MultiTenantEngineManager) ReloadTenant(tenantID string) error {
	build := m.buildLock(tenantID)
	build.Lock()
	defer build.Unlock()

	m.mu.RLock()
	store, ok := m.stores[tenantID]
	_, loaded := m.engines[tenantID]
	shared := m.shared
	m.mu.RUnlock()
	if !ok || !loaded {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}

	te, err := m.buildEngine(tenantID, store, shared)
	m.notify(tenantID, te, err)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, still := m.engines[tenantID]; !still {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	m.engines[tenantID] = te
	return nil
}

// SetSharedRules replaces the rules every tenant sees after the built-ins and
// reloads all tenants. The shared set is rejected as a whole if it collides
// with the built-ins. Tenants whose custom rules now collide keep their old
// engine; their errors are joined in the result.
func (m *MultiTenantEngineManager) SetSharedRules(shared []rules.ComplianceRule) error {
	if _, err := rules.NewCatalog(shared); err != nil {
		return fmt.Errorf("invalid shared rules: %w", err)
	}

	m.mu.Lock()
	m.shared = shared
	m.mu.Unlock()

	if m.cache != nil {
		m.cache.Invalidate()
	}

	var errs []error
	for _, tenantID := range m.ListTenants() {
		if err := m.ReloadTenant(tenantID); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
		}
	}
	return errors.Join(errs...)
}

// SharedRules returns the current shared rule set
func (m *MultiTenantEngineManager) SharedRules() []rules.ComplianceRule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]rules.ComplianceRule, len(m.shared))
	copy(out, m.shared)
	return out
}

// ListTenants returns all loaded tenant IDs, sorted
func (m *MultiTenantEngineManager) ListTenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := make([]string, 0, len(m.engines))
	for tenantID := range m.engines {
		tenants = append(tenants, tenantID)
	}
	sort.Strings(tenants)
	return tenants
}

// DeleteTenant removes a tenant's engine from the cache
// Note: This does not delete the tenant from the database
func (m *MultiTenantEngineManager) DeleteTenant(tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[tenantID]; !exists {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}

	delete(m.engines, tenantID)
	delete(m.stores, tenantID)
	return nil
}
