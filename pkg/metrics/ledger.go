package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records ledger issuance, cancellation and verification outcomes.
type LedgerMetrics struct {
	entries       *prometheus.CounterVec
	quotaRejected prometheus.Counter
	lockTimeouts  prometheus.Counter
	verifications *prometheus.CounterVec
	issueDuration prometheus.Histogram
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entries_total",
		Help: "Ledger entries appended, by kind.",
	}, []string{"kind"})
	quotaRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_quota_rejections_total",
		Help: "Issue attempts rejected because the monthly quota was exhausted.",
	})
	lockTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ledger_lock_timeouts_total",
		Help: "Issue attempts that timed out waiting for the tenant chain lock.",
	})
	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_verifications_total",
		Help: "Public verification lookups, by result.",
	}, []string{"result"})
	issueDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_issue_duration_seconds",
		Help:    "Duration of the full issue transaction in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(entries, quotaRejected, lockTimeouts, verifications, issueDuration)
	return &LedgerMetrics{
		entries:       entries,
		quotaRejected: quotaRejected,
		lockTimeouts:  lockTimeouts,
		verifications: verifications,
		issueDuration: issueDuration,
	}
}

// IncEntry increments the appended-entries counter for the given kind.
func (m *LedgerMetrics) IncEntry(kind string) {
	if m == nil || m.entries == nil {
		return
	}
	m.entries.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncQuotaRejected increments the quota rejection counter.
func (m *LedgerMetrics) IncQuotaRejected() {
	if m == nil || m.quotaRejected == nil {
		return
	}
	m.quotaRejected.Inc()
}

// IncLockTimeout increments the chain lock timeout counter.
func (m *LedgerMetrics) IncLockTimeout() {
	if m == nil || m.lockTimeouts == nil {
		return
	}
	m.lockTimeouts.Inc()
}

// IncVerification increments the verification counter for the given result.
func (m *LedgerMetrics) IncVerification(result string) {
	if m == nil || m.verifications == nil {
		return
	}
	m.verifications.WithLabelValues(normalizeLabel(result)).Inc()
}

// ObserveIssueDuration records how long one issue transaction took.
func (m *LedgerMetrics) ObserveIssueDuration(d time.Duration) {
	if m == nil || m.issueDuration == nil {
		return
	}
	m.issueDuration.Observe(d.Seconds())
}
