package verifier

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomePassed  = "passed"
	outcomeRequery = "requery"
	outcomeAbandon = "abandon"
)

// Metrics holds the verifier's prometheus collectors.
type Metrics struct {
	created         prometheus.Counter
	duplicates      prometheus.Counter
	outcomes        *prometheus.CounterVec
	rundowns        prometheus.Counter
	poolDepFailures *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	pending         prometheus.Gauge
	processing      prometheus.Gauge
}

// NewMetrics creates the verifier collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pricing",
			Subsystem: "verifier",
			Name:      "subgraphs_created_total",
			Help:      "Subgraphs created for verification.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pricing",
			Subsystem: "verifier",
			Name:      "duplicate_creates_total",
			Help:      "Create requests ignored because the key was already in flight.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricing",
			Subsystem: "verifier",
			Name:      "outcomes_total",
			Help:      "Verification pass outcomes.",
		}, []string{"outcome"}),
		rundowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pricing",
			Subsystem: "verifier",
			Name:      "rundowns_total",
			Help:      "Subgraphs switched to rundown mode.",
		}),
		poolDepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricing",
			Subsystem: "verifier",
			Name:      "pool_dependency_failures_total",
			Help:      "Pools reported unusable, by whether they were applied or deferred.",
		}, []string{"mode"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricing",
			Subsystem: "verifier",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one parallel verification batch.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricing",
			Subsystem: "verifier",
			Name:      "pending_subgraphs",
			Help:      "Subgraphs waiting for verification.",
		}),
		processing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pricing",
			Subsystem: "verifier",
			Name:      "processing_subgraphs",
			Help:      "Subgraphs inside a verification batch.",
		}),
	}

	reg.MustRegister(
		m.created,
		m.duplicates,
		m.outcomes,
		m.rundowns,
		m.poolDepFailures,
		m.batchDuration,
		m.pending,
		m.processing,
	)
	return m
}
