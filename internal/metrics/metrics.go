// Package metrics exposes analysis progress to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	FramesProcessed    atomic.Uint64
	FramesSkipped      atomic.Uint64
	FitsNotConverged   atomic.Uint64
	DegeneratePhysics  atomic.Uint64
	LastSurfaceTension atomic.Value // float64

	fitDuration    prometheus.Histogram
	fitEvaluations prometheus.Histogram
	skipReasons    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.LastSurfaceTension.Store(0.0)
	m.register()
	return m
}

func (m *Metrics) register() {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "drop_frames_processed_total",
			Help: "Frames that produced a fit result",
		},
		func() float64 { return float64(m.FramesProcessed.Load()) },
	))
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "drop_frames_skipped_total",
			Help: "Frames skipped as unprocessable",
		},
		func() float64 { return float64(m.FramesSkipped.Load()) },
	))
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "drop_fits_not_converged_total",
			Help: "Fits that stopped without meeting a convergence criterion",
		},
		func() float64 { return float64(m.FitsNotConverged.Load()) },
	))
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "drop_degenerate_physics_total",
			Help: "Frames whose surface tension was flagged invalid",
		},
		func() float64 { return float64(m.DegeneratePhysics.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "drop_surface_tension_newtons_per_metre",
			Help: "Surface tension of the most recent valid fit",
		},
		func() float64 { return m.LastSurfaceTension.Load().(float64) },
	))

	m.fitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "drop_fit_duration_seconds",
		Help:    "Wall time of one shape fit",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	m.fitEvaluations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "drop_fit_evaluations",
		Help:    "Residual evaluations per shape fit",
		Buckets: prometheus.LinearBuckets(0, 25, 21),
	})
	m.skipReasons = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "drop_frames_skipped_by_reason_total",
		Help: "Skipped frames by reason",
	}, []string{"reason"})
	m.registry.MustRegister(m.fitDuration, m.fitEvaluations, m.skipReasons)
}

// ObserveFit records one finished fit.
func (m *Metrics) ObserveFit(d time.Duration, evaluations int, converged bool) {
	if m == nil {
		return
	}
	m.FramesProcessed.Add(1)
	if !converged {
		m.FitsNotConverged.Add(1)
	}
	m.fitDuration.Observe(d.Seconds())
	m.fitEvaluations.Observe(float64(evaluations))
}

// ObserveSurfaceTension records a derived surface tension.
func (m *Metrics) ObserveSurfaceTension(v float64, valid bool) {
	if m == nil {
		return
	}
	if !valid {
		m.DegeneratePhysics.Add(1)
		return
	}
	m.LastSurfaceTension.Store(v)
}

// Skip records a skipped frame.
func (m *Metrics) Skip(reason string) {
	if m == nil {
		return
	}
	m.FramesSkipped.Add(1)
	m.skipReasons.WithLabelValues(reason).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
