package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"libracirc/internal/apperr"
)

// Metrics holds the Prometheus collectors for the lending engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Outcomes       *prometheus.CounterVec
	LateFeeCents   prometheus.Counter
	Contention     *prometheus.CounterVec
	GuardAnomalies *prometheus.CounterVec
	GuardAudits    *prometheus.CounterVec
	AuditRelayed   prometheus.Counter
	RelayFailures  prometheus.Counter
	TxDuration     *prometheus.HistogramVec
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libracirc_operation_outcomes_total",
			Help: "Lending and review operations by outcome code",
		}, []string{"operation", "outcome"}),
		LateFeeCents: f.NewCounter(prometheus.CounterOpts{
			Name: "libracirc_late_fee_cents_total",
			Help: "Late fees charged on return, in cents",
		}),
		Contention: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libracirc_lock_contention_total",
			Help: "Operations rejected because a row lock could not be acquired in time",
		}, []string{"operation"}),
		GuardAnomalies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libracirc_guard_clamps_total",
			Help: "Book writes the consistency guard had to correct, by field",
		}, []string{"field"}),
		GuardAudits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "libracirc_guard_audit_entries_total",
			Help: "Audit entries emitted by the consistency guard, by action",
		}, []string{"action"}),
		AuditRelayed: f.NewCounter(prometheus.CounterOpts{
			Name: "libracirc_audit_relayed_total",
			Help: "Audit entries published by the outbox relay",
		}),
		RelayFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "libracirc_audit_relay_failures_total",
			Help: "Outbox relay batches that failed to publish",
		}),
		TxDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "libracirc_tx_duration_seconds",
			Help:    "Duration of store transactions",
			Buckets: prometheus.DefBuckets,
		}, []string{"store", "result"}),
	}
}

// ObserveOutcome counts op under the error's code, or "ok".
func (m *Metrics) ObserveOutcome(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.CodeOf(err))
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind == apperr.KindContention {
			m.Contention.WithLabelValues(op).Inc()
		}
	}
	m.Outcomes.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) AddLateFee(cents int64) {
	if m == nil || cents <= 0 {
		return
	}
	m.LateFeeCents.Add(float64(cents))
}

func (m *Metrics) IncGuardClamp(field string) {
	if m == nil {
		return
	}
	m.GuardAnomalies.WithLabelValues(field).Inc()
}

func (m *Metrics) IncGuardAudit(action string) {
	if m == nil {
		return
	}
	m.GuardAudits.WithLabelValues(action).Inc()
}

func (m *Metrics) AddRelayed(n int) {
	if m == nil {
		return
	}
	m.AuditRelayed.Add(float64(n))
}

func (m *Metrics) IncRelayFailure() {
	if m == nil {
		return
	}
	m.RelayFailures.Inc()
}

// ObserveTx records how long a transaction took.
func (m *Metrics) ObserveTx(store string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "commit"
	if err != nil {
		result = "rollback"
	}
	m.TxDuration.WithLabelValues(store, result).Observe(time.Since(start).Seconds())
}
