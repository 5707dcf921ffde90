package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/compliance/internal/logger"
	"github.com/liamcoop/compliance/rules"
)

// Collector owns the Prometheus metrics of the compliance service.
//
// Metrics:
//   - <ns>_evaluations_total: evaluations by tenant and outcome (compliant, non_compliant)
//   - <ns>_evaluation_duration_seconds: evaluation latency by tenant
//   - <ns>_violations_total: violations by rule and severity
//   - <ns>_condition_diagnostics_total: conditions that failed to evaluate, by rule and kind
//   - <ns>_catalog_rules: rules in each tenant catalog
//   - <ns>_reloads_total: engine reloads by tenant and result
//   - <ns>_http_requests_total: HTTP responses by route and status code
//   - <ns>_log_errors_total, <ns>_log_warnings_total: logger counters, unsampled
type Collector struct {
	registry *prometheus.Registry

	evaluations        *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	violations         *prometheus.CounterVec
	diagnostics        *prometheus.CounterVec
	catalogRules       *prometheus.GaugeVec
	reloads            *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
}

// NewCollector creates and registers the metrics. A nil registry gets a fresh
// one.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "compliance"
	}

	c := &Collector{
		registry: registry,
		evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of compliance evaluations",
			},
			[]string{"tenant_id", "outcome"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of compliance evaluation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to ~160ms
			},
			[]string{"tenant_id"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "violations_total",
				Help:      "Total number of rule violations",
			},
			[]string{"rule_id", "severity"},
		),
		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "condition_diagnostics_total",
				Help:      "Total number of trigger conditions that failed to evaluate",
			},
			[]string{"rule_id", "kind"},
		),
		catalogRules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "catalog_rules",
				Help:      "Number of rules in a tenant catalog",
			},
			[]string{"tenant_id"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reloads_total",
				Help:      "Total number of tenant engine reloads",
			},
			[]string{"tenant_id", "result"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP responses",
			},
			[]string{"route", "code"},
		),
	}

	registry.MustRegister(
		c.evaluations,
		c.evaluationDuration,
		c.violations,
		c.diagnostics,
		c.catalogRules,
		c.reloads,
		c.httpRequests,
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_errors_total",
			Help:      "Errors reported through the logger, including sampled-out ones",
		}, func() float64 { return float64(logger.TotalErrors.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_warnings_total",
			Help:      "Warnings reported through the logger, including sampled-out ones",
		}, func() float64 { return float64(logger.TotalWarnings.Load()) }),
	)

	return c
}

// Registry returns the registry the collector registered with
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordEvaluation records one EvaluateCompliance call
func (c *Collector) RecordEvaluation(tenantID string, report *rules.ComplianceReport, diags rules.Diagnostics, d time.Duration) {
	outcome := "compliant"
	if !report.Compliant {
		outcome = "non_compliant"
	}
	c.evaluations.WithLabelValues(tenantID, outcome).Inc()
	c.evaluationDuration.WithLabelValues(tenantID).Observe(d.Seconds())

	for _, v := range report.Violations {
		c.violations.WithLabelValues(v.RuleID, string(v.Severity)).Inc()
	}
	for _, diag := range diags {
		c.diagnostics.WithLabelValues(diag.RuleID, diag.Kind).Inc()
	}
}

// RecordReload records a tenant engine (re)build. ruleCount is ignored when
// err is non-nil.
func (c *Collector) RecordReload(tenantID string, ruleCount int, err error) {
	if err != nil {
		c.reloads.WithLabelValues(tenantID, "error").Inc()
		return
	}
	c.reloads.WithLabelValues(tenantID, "success").Inc()
	c.catalogRules.WithLabelValues(tenantID).Set(float64(ruleCount))
}

// ForgetTenant drops per-tenant series
func (c *Collector) ForgetTenant(tenantID string) {
	c.catalogRules.DeleteLabelValues(tenantID)
}

// RecordHTTP records an HTTP response
func (c *Collector) RecordHTTP(route string, status int) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// Handler exposes the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
