package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type SettlementMetrics struct {
	solutionsAccepted  prometheus.Counter
	solutionsRejected  *prometheus.CounterVec
	bondsSlashed       prometheus.Counter
	windowsFinalized   prometheus.Counter
	windowsEmpty       prometheus.Counter
	windowsReverted    prometheus.Counter
	provisionalScore   prometheus.Gauge
	openIntents        prometheus.Gauge
	intentsResolved    prometheus.Counter
	intentsExpired     prometheus.Counter
	solveDuration      prometheus.Histogram
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// Settlement returns the singleton registry tracking window auction health.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			solutionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settle_solutions_accepted_total",
				Help: "Count of solutions accepted as the provisional best.",
			}),
			solutionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "settle_solutions_rejected_total",
				Help: "Count of rejected solutions segmented by failed check.",
			}, []string{"reason"}),
			bondsSlashed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settle_bonds_slashed_total",
				Help: "Count of proposer bonds forfeited to the protocol.",
			}),
			windowsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settle_windows_finalized_total",
				Help: "Count of windows closed with an executed solution.",
			}),
			windowsEmpty: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settle_windows_empty_total",
				Help: "Count of windows closed without any accepted solution.",
			}),
			windowsReverted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settle_windows_reverted_total",
				Help: "Count of execution rollbacks that re-opened a window.",
			}),
			provisionalScore: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "settle_provisional_score",
				Help: "Score of the current provisional best solution.",
			}),
			openIntents: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "settle_open_intents",
				Help: "Number of intents currently open in the store.",
			}),
			intentsResolved: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settle_intents_resolved_total",
				Help: "Count of intent resolutions applied by the execution engine.",
			}),
			intentsExpired: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "settle_intents_expired_total",
				Help: "Count of intents swept after their deadline passed.",
			}),
			solveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "settle_solve_duration_seconds",
				Help:    "Latency distribution of built-in solver runs.",
				Buckets: prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.solutionsAccepted,
			settlementRegistry.solutionsRejected,
			settlementRegistry.bondsSlashed,
			settlementRegistry.windowsFinalized,
			settlementRegistry.windowsEmpty,
			settlementRegistry.windowsReverted,
			settlementRegistry.provisionalScore,
			settlementRegistry.openIntents,
			settlementRegistry.intentsResolved,
			settlementRegistry.intentsExpired,
			settlementRegistry.solveDuration,
		)
	})
	return settlementRegistry
}

// RecordAcceptance notes a newly accepted provisional solution and its score.
func (m *SettlementMetrics) RecordAcceptance(score uint64) {
	if m == nil {
		return
	}
	m.solutionsAccepted.Inc()
	m.provisionalScore.Set(float64(score))
}

// RecordRejection notes a failed submission by check name.
func (m *SettlementMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.solutionsRejected.WithLabelValues(reason).Inc()
}

// RecordSlash notes a forfeited bond.
func (m *SettlementMetrics) RecordSlash() {
	if m == nil {
		return
	}
	m.bondsSlashed.Inc()
}

// RecordWindowClose notes the outcome of a window close.
func (m *SettlementMetrics) RecordWindowClose(executed, reverted bool) {
	if m == nil {
		return
	}
	switch {
	case reverted:
		m.windowsReverted.Inc()
	case executed:
		m.windowsFinalized.Inc()
		m.provisionalScore.Set(0)
	default:
		m.windowsEmpty.Inc()
		m.provisionalScore.Set(0)
	}
}

// SetOpenIntents records the current open-intent count.
func (m *SettlementMetrics) SetOpenIntents(count int) {
	if m == nil {
		return
	}
	m.openIntents.Set(float64(count))
}

// RecordResolved adds to the resolved-intent counter.
func (m *SettlementMetrics) RecordResolved(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.intentsResolved.Add(float64(count))
}

// RecordExpired adds to the expired-intent counter.
func (m *SettlementMetrics) RecordExpired(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.intentsExpired.Add(float64(count))
}

// ObserveSolve records one built-in solver run duration in seconds.
func (m *SettlementMetrics) ObserveSolve(seconds float64) {
	if m == nil {
		return
	}
	m.solveDuration.Observe(seconds)
}
