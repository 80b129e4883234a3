package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config carries the constant labels attached to every instrument.
type Config struct {
	ServiceName string
	Environment string
}

const (
	ResultAccepted = "accepted"
	ResultReplayed = "replayed"
	ResultRejected = "rejected"
	ResultFailed   = "failed"

	IdempotencyHit        = "hit"
	IdempotencyMiss       = "miss"
	IdempotencyLookupFail = "lookup_failed"
	IdempotencyRecordFail = "record_failed"
)

// Metrics exposes attendance-level instruments.
type Metrics struct {
	clockEvents      *prometheus.CounterVec
	geofenceChecks   *prometheus.CounterVec
	idempotency      *prometheus.CounterVec
	approvals        *prometheus.CounterVec
	invoicedEntries  prometheus.Counter
	rateLimitDenied  *prometheus.CounterVec
	conflictsFlagged *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	engine      *Metrics
)

// EngineWithConfig returns the process-wide attendance metrics.
func EngineWithConfig(cfg Config) *Metrics {
	metricsOnce.Do(func() {
		engine = newMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return engine
}

// NewForRegistry builds an isolated instrument set, mostly for tests.
func NewForRegistry(registerer prometheus.Registerer, cfg Config) *Metrics {
	return newMetrics(registerer, cfg)
}

func constLabels(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "fieldclock"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

func newMetrics(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	m := &Metrics{
		clockEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fieldclock_clock_events_total",
			Help:        "Clock-in and clock-out requests by outcome.",
			ConstLabels: labels,
		}, []string{"action", "result"}),
		geofenceChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fieldclock_geofence_checks_total",
			Help:        "Geofence validations by strictness and outcome.",
			ConstLabels: labels,
		}, []string{"mode", "valid"}),
		idempotency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fieldclock_idempotency_total",
			Help:        "Idempotency store lookups and writes by outcome.",
			ConstLabels: labels,
		}, []string{"operation", "outcome"}),
		approvals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fieldclock_approval_items_total",
			Help:        "Approval and rejection items by outcome.",
			ConstLabels: labels,
		}, []string{"action", "result"}),
		invoicedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "fieldclock_invoiced_entries_total",
			Help:        "Time entries attached to invoices.",
			ConstLabels: labels,
		}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fieldclock_rate_limit_denied_total",
			Help:        "Requests refused by the clock event limiter.",
			ConstLabels: labels,
		}, []string{"action"}),
		conflictsFlagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "fieldclock_conflicts_detected_total",
			Help:        "Conflicts produced by the detector by kind.",
			ConstLabels: labels,
		}, []string{"kind"}),
	}

	registerer.MustRegister(
		m.clockEvents,
		m.geofenceChecks,
		m.idempotency,
		m.approvals,
		m.invoicedEntries,
		m.rateLimitDenied,
		m.conflictsFlagged,
	)
	return m
}

func (m *Metrics) RecordClockEvent(action, result string) {
	if m == nil {
		return
	}
	m.clockEvents.WithLabelValues(action, result).Inc()
}

func (m *Metrics) RecordGeofence(strict, valid bool) {
	if m == nil {
		return
	}
	mode := "soft"
	if strict {
		mode = "hard"
	}
	outcome := "false"
	if valid {
		outcome = "true"
	}
	m.geofenceChecks.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) RecordIdempotency(operation, outcome string) {
	if m == nil {
		return
	}
	m.idempotency.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) RecordApproval(action, result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.approvals.WithLabelValues(action, result).Add(float64(count))
}

func (m *Metrics) AddInvoicedEntries(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.invoicedEntries.Add(float64(count))
}

func (m *Metrics) RecordRateLimitDenied(action string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordConflict(kind string) {
	if m == nil {
		return
	}
	m.conflictsFlagged.WithLabelValues(kind).Inc()
}
