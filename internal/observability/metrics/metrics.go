package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Config supplies the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Metrics exposes the billing engine's Prometheus instruments. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	checkoutReconciliations *prometheus.CounterVec
	lifecycleEvents         *prometheus.CounterVec
	usageReports            *prometheus.CounterVec
	entitlementChecks       *prometheus.CounterVec
	cacheLookups            *prometheus.CounterVec
	rateLimitDecisions      *prometheus.CounterVec
	httpDuration            *prometheus.HistogramVec
}

// New registers the instruments on registerer.
func New(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "tenantbilling"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &Metrics{
		checkoutReconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tenantbilling_checkout_reconciliations_total",
			Help:        "Checkout session reconciliations by outcome.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		lifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tenantbilling_lifecycle_events_total",
			Help:        "Subscription lifecycle webhook events by type and outcome.",
			ConstLabels: constLabels,
		}, []string{"type", "result"}),
		usageReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tenantbilling_usage_reports_total",
			Help:        "Metered usage reports forwarded to the payment provider.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		entitlementChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tenantbilling_entitlement_checks_total",
			Help:        "Feature entitlement checks by resolved entitlement type.",
			ConstLabels: constLabels,
		}, []string{"type"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tenantbilling_cache_lookups_total",
			Help:        "Cache lookups by cache name and outcome.",
			ConstLabels: constLabels,
		}, []string{"cache", "outcome"}),
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tenantbilling_rate_limit_decisions_total",
			Help:        "Usage trigger rate limit decisions by outcome and reason.",
			ConstLabels: constLabels,
		}, []string{"outcome", "reason"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "tenantbilling_http_request_duration_seconds",
			Help:        "HTTP request latency by route and status.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
	}

	registerer.MustRegister(
		m.checkoutReconciliations,
		m.lifecycleEvents,
		m.usageReports,
		m.entitlementChecks,
		m.cacheLookups,
		m.rateLimitDecisions,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) RecordCheckoutReconciliation(result string) {
	if m == nil {
		return
	}
	m.checkoutReconciliations.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordLifecycleEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.lifecycleEvents.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) RecordUsageReport(result string) {
	if m == nil {
		return
	}
	m.usageReports.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEntitlementCheck(entitlementType string) {
	if m == nil {
		return
	}
	m.entitlementChecks.WithLabelValues(entitlementType).Inc()
}

func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, outcome).Inc()
}

// RecordRateLimit counts one limiter decision. reason is empty when allowed.
func (m *Metrics) RecordRateLimit(allowed bool, reason string) {
	if m == nil {
		return
	}
	outcome := "denied"
	if allowed {
		outcome = "allowed"
		reason = "none"
	}
	m.rateLimitDecisions.WithLabelValues(outcome, reason).Inc()
}

// GinMiddleware observes request latency per matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.httpDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
