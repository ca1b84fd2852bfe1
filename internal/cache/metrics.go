package cache

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	hits         prometheus.Counter
	misses       prometheus.Counter
	shared       prometheus.Counter
	computations prometheus.Counter
	failures     prometheus.Counter
}

// NewMetrics builds the cache counters and registers them when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelforge_cache_hits_total",
			Help: "Derivative lookups served from the result cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelforge_cache_misses_total",
			Help: "Derivative lookups that missed the result cache.",
		}),
		shared: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelforge_cache_shared_results_total",
			Help: "Results delivered from a computation shared with other callers.",
		}),
		computations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelforge_cache_computations_total",
			Help: "Derivative computations started by the result cache.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelforge_cache_computation_failures_total",
			Help: "Derivative computations that returned an error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.hits, m.misses, m.shared, m.computations, m.failures)
	}
	return m
}
