package service

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/dunamismax/pixelforge/internal/apperr"
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	derivations *prometheus.CounterVec
	duration    prometheus.Histogram
	warnings    *prometheus.CounterVec
	reused      prometheus.Counter
}

// NewMetrics registers the service collectors on reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		derivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelforge_derivations_total",
			Help: "Derive calls by outcome kind.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelforge_derivation_duration_seconds",
			Help:    "Time spent resolving a derivative, including cache hits.",
			Buckets: prometheus.DefBuckets,
		}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelforge_pipeline_warnings_total",
			Help: "Non-fatal pipeline warnings by code.",
		}, []string{"code"}),
		reused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelforge_derivatives_reused_total",
			Help: "Computed derivatives whose object another process had already stored.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.derivations, m.duration, m.warnings, m.reused)
	}
	return m
}

func (m *Metrics) observeDerive(err error, elapsed time.Duration) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	default:
		outcome = string(apperr.KindOf(err))
	}
	m.derivations.WithLabelValues(outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func defaultConcurrency() int {
	return runtime.GOMAXPROCS(0)
}
