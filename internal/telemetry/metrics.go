// Metrics wraps prometheus counters/gauges for the governance plane.
// Grounded on metrics/metric.go's Averager/Counter/Gauge/Registry shape,
// repointed at cycle/rollback/significance-gate observability instead of
// consensus round timing.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every prometheus collector the governor registers.
// Passed as an explicit handle to C8/C9/C11 rather than a singleton.
type Metrics struct {
	CyclesTotal          prometheus.Counter
	CyclesRolledBack     prometheus.Counter
	CandidatesEnumerated prometheus.Counter
	CandidatesSelected   prometheus.Counter
	SignificanceRejected prometheus.Counter
	BudgetRejected       prometheus.Counter
	LedgerAppendsTotal   prometheus.Counter
	DriftScore           prometheus.Gauge
	CycleDurationSeconds prometheus.Histogram
}

// NewMetrics constructs and registers the governor's metrics against reg.
// Registration failures are returned so callers can decide whether a
// duplicate-registration error (e.g. in tests that construct Metrics more
// than once against a shared default registry) is fatal.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governor_cycles_total",
			Help: "Total number of tuning cycles driven to completion.",
		}),
		CyclesRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governor_cycles_rolled_back_total",
			Help: "Total number of tuning cycles that rolled back due to drift or timeout.",
		}),
		CandidatesEnumerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governor_portfolio_candidates_enumerated_total",
			Help: "Total number of candidates enumerated by the portfolio optimizer.",
		}),
		CandidatesSelected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governor_portfolio_candidates_selected_total",
			Help: "Total number of candidates selected by the portfolio optimizer.",
		}),
		SignificanceRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governor_portfolio_significance_rejected_total",
			Help: "Total number of candidates rejected by the significance gate.",
		}),
		BudgetRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governor_portfolio_budget_rejected_total",
			Help: "Total number of candidates rejected for exceeding the cycle budget.",
		}),
		LedgerAppendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "governor_ledger_appends_total",
			Help: "Total number of entries appended to the evidence ledger.",
		}),
		DriftScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "governor_canary_drift_score",
			Help: "Drift score observed during the most recent canary window.",
		}),
		CycleDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "governor_cycle_duration_seconds",
			Help:    "Wall-clock duration of a full tuning cycle.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.CyclesTotal, m.CyclesRolledBack, m.CandidatesEnumerated,
		m.CandidatesSelected, m.SignificanceRejected, m.BudgetRejected,
		m.LedgerAppendsTotal, m.DriftScore, m.CycleDurationSeconds,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewNoOpMetrics returns Metrics registered against a fresh, private
// registry, for tests and for invocations that do not expose /metrics.
func NewNoOpMetrics() *Metrics {
	m, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		// A fresh private registry cannot already contain these
		// collectors; a failure here is a programmer error.
		panic(err)
	}
	return m
}
