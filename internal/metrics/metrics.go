package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route computation outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeNotSelected  = "endpoints_not_selected"
	OutcomeFailed       = "failed"
	OutcomeRenderFailed = "render_failed"
	OutcomeSuperseded   = "superseded"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry             *prometheus.Registry
	httpRequests         *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	routeComputations    *prometheus.CounterVec
	routeComputeDuration prometheus.Histogram
	overlaySwaps         prometheus.Counter
	hoverPreviews        *prometheus.CounterVec
	activeSessions       prometheus.Gauge
}

// New creates a fresh Metrics registry with HTTP and route controller metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routeview",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by routeview",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "routeview",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by routeview",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	routeComputations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routeview",
		Name:      "route_computations_total",
		Help:      "Route computations requested by sessions, by outcome",
	}, []string{"outcome"})

	routeComputeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "routeview",
		Name:      "route_computation_duration_seconds",
		Help:      "Round trip to the routing backend",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	overlaySwaps := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "routeview",
		Name:      "overlay_swaps_total",
		Help:      "Current-route overlays attached to a map surface",
	})

	hoverPreviews := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routeview",
		Name:      "hover_previews_total",
		Help:      "Step hover viewport changes, by phase",
	}, []string{"phase"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "routeview",
		Name:      "active_sessions",
		Help:      "Map sessions currently held in memory",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		routeComputations,
		routeComputeDuration,
		overlaySwaps,
		hoverPreviews,
		activeSessions,
	)

	return &Metrics{
		registry:             registry,
		httpRequests:         httpRequests,
		httpRequestDuration:  httpRequestDuration,
		routeComputations:    routeComputations,
		routeComputeDuration: routeComputeDuration,
		overlaySwaps:         overlaySwaps,
		hoverPreviews:        hoverPreviews,
		activeSessions:       activeSessions,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

func (m *Metrics) IncRouteComputation(outcome string) {
	if m == nil {
		return
	}
	m.routeComputations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRouteComputeDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.routeComputeDuration.Observe(duration.Seconds())
}

func (m *Metrics) IncOverlaySwap() {
	if m == nil {
		return
	}
	m.overlaySwaps.Inc()
}

// IncHoverPreview counts a viewport change; phase is "enter" or "exit".
func (m *Metrics) IncHoverPreview(phase string) {
	if m == nil {
		return
	}
	m.hoverPreviews.WithLabelValues(phase).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
