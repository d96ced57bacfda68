package pricer

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	blockDuration prometheus.Histogram
	pairs         *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		blockDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pricing",
			Subsystem: "pricer",
			Name:      "block_duration_seconds",
			Help:      "Time to price every requested pair of one block.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		pairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pricing",
			Subsystem: "pricer",
			Name:      "pairs_total",
			Help:      "Requested pairs by whether a price was found.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.blockDuration, m.pairs)
	return m
}
