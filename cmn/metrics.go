package cmn

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the small set of counters/gauges this core registers,
// grounded on the teacher's stats/target_stats.go and stats/proxy_stats.go
// counter-and-gauge registration idiom.
type Metrics struct {
	Fragments          prometheus.Gauge
	StorageUnits        prometheus.Gauge
	BootstrapAttempts   prometheus.Counter
	BootstrapWins       prometheus.Counter
	ChangeEventsApplied prometheus.Counter
	ChangeEventsSkipped prometheus.Counter
	RebalanceTriggers   prometheus.Counter
}

// NewMetrics builds and registers the core's metrics against reg. Passing a
// fresh prometheus.NewRegistry() in tests keeps registration idempotent
// across test cases.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fragments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "metacore", Name: "fragments", Help: "Number of fragments in the local cache.",
		}),
		StorageUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "metacore", Name: "storage_units", Help: "Number of storage units in the local cache.",
		}),
		BootstrapAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metacore", Name: "bootstrap_attempts_total", Help: "Initial-fragment bootstrap attempts by this node.",
		}),
		BootstrapWins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metacore", Name: "bootstrap_wins_total", Help: "Initial-fragment bootstraps won by this node.",
		}),
		ChangeEventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metacore", Name: "change_events_applied_total", Help: "Remote change events applied to the cache.",
		}),
		ChangeEventsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metacore", Name: "change_events_skipped_total", Help: "Remote change events skipped (self-echo, initial, or pre-bootstrap).",
		}),
		RebalanceTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metacore", Name: "rebalance_triggers_total", Help: "Times the plan splitter's prefix table flush triggered a rebalance.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Fragments, m.StorageUnits, m.BootstrapAttempts,
			m.BootstrapWins, m.ChangeEventsApplied, m.ChangeEventsSkipped, m.RebalanceTriggers)
	}
	return m
}
