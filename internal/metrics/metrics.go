// Package metrics exposes Prometheus metrics for prefetch coordinators and
// the loads they trigger.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livinlefevreloca/prewarm/internal/loader"
	"github.com/livinlefevreloca/prewarm/internal/prefetch"
)

// Metrics tracks prefetch and loader metrics.
//
// All metrics use the prewarm_ prefix. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// TransitionsTotal counts request transitions by target state
	TransitionsTotal *prometheus.CounterVec

	// RequestsFinishedTotal counts finished requests by trigger and outcome
	RequestsFinishedTotal *prometheus.CounterVec

	// InFlight tracks loads that have started and not yet finished
	InFlight prometheus.Gauge

	// PrefetchDuration tracks time from load start to settlement
	PrefetchDuration *prometheus.HistogramVec

	// OpenLatency tracks time from click to ready
	OpenLatency *prometheus.HistogramVec

	// LoadsTotal counts loader invocations by kind and result
	LoadsTotal *prometheus.CounterVec

	// LoadBytesTotal counts bytes fetched by kind
	LoadBytesTotal *prometheus.CounterVec

	// LoadDuration tracks loader latency by kind
	LoadDuration *prometheus.HistogramVec
}

// NewMetrics creates metrics and registers them with reg.
// Panics if registration fails (expected during initialization only).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prewarm_prefetch_transitions_total",
				Help: "Total prefetch request transitions by target state",
			},
			[]string{"to"},
		),
		RequestsFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prewarm_prefetch_requests_finished_total",
				Help: "Total finished prefetch requests by trigger and outcome",
			},
			[]string{"trigger", "outcome"}, // "success", "failure", "cancelled"
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "prewarm_prefetch_in_flight",
				Help: "Current number of prefetch loads in flight",
			},
		),
		PrefetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prewarm_prefetch_duration_seconds",
				Help:    "Prefetch load duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		OpenLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prewarm_open_latency_seconds",
				Help:    "Time from click to ready in seconds",
				Buckets: []float64{0, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"trigger"},
		),
		LoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prewarm_loader_loads_total",
				Help: "Total loader invocations by kind and result",
			},
			[]string{"kind", "result"}, // "success", "failure"
		),
		LoadBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prewarm_loader_bytes_total",
				Help: "Total bytes fetched by kind",
			},
			[]string{"kind"},
		),
		LoadDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prewarm_loader_duration_seconds",
				Help:    "Loader duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(
		m.TransitionsTotal,
		m.RequestsFinishedTotal,
		m.InFlight,
		m.PrefetchDuration,
		m.OpenLatency,
		m.LoadsTotal,
		m.LoadBytesTotal,
		m.LoadDuration,
	)

	return m
}

// OnTransition records a coordinator transition. Metrics implements
// prefetch.Observer.
func (m *Metrics) OnTransition(req prefetch.Request, from, to prefetch.Status) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(to.String()).Inc()

	if to == prefetch.StatusLoading {
		m.InFlight.Inc()
	}
	if from == prefetch.StatusLoading {
		m.InFlight.Dec()
	}

	switch to {
	case prefetch.StatusSettled:
		m.RequestsFinishedTotal.WithLabelValues(req.TriggerID, req.Outcome.String()).Inc()
		m.PrefetchDuration.WithLabelValues(req.TriggerID).Observe(req.LoadDuration().Seconds())
	case prefetch.StatusCancelled:
		m.RequestsFinishedTotal.WithLabelValues(req.TriggerID, "cancelled").Inc()
	}
}

// RecordOpenLatency records the click-to-ready time of a trigger point
func (m *Metrics) RecordOpenLatency(trigger string, latency time.Duration) {
	if m == nil {
		return
	}
	m.OpenLatency.WithLabelValues(trigger).Observe(latency.Seconds())
}

// Interceptor returns a loader interceptor recording every load
func (m *Metrics) Interceptor() loader.Interceptor {
	return func(id string, kind loader.Kind, next loader.Loader) loader.Loader {
		if m == nil {
			return next
		}
		return func(ctx context.Context) (loader.Result, error) {
			start := time.Now()
			res, err := next(ctx)

			result := "success"
			if err != nil {
				result = "failure"
			}
			m.LoadsTotal.WithLabelValues(string(kind), result).Inc()
			m.LoadBytesTotal.WithLabelValues(string(kind)).Add(float64(res.Bytes))
			m.LoadDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
			return res, err
		}
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
