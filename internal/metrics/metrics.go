package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes used as the result label.
const (
	ResultSuccess    = "success"
	ResultFailure    = "failure"
	ResultSuperseded = "superseded"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry             *prometheus.Registry
	httpRequests         *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	refreshRuns          *prometheus.CounterVec
	refreshRunDuration   prometheus.Histogram
	retrievalRetries     *prometheus.CounterVec
	graphNodes           *prometheus.GaugeVec
	graphEdges           *prometheus.GaugeVec
	layoutIterations     prometheus.Counter
	layoutNonConvergence *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP, refresh, graph and layout
// metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topoview",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by topoview",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "topoview",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by topoview",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	refreshRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topoview",
		Name:      "refresh_runs_total",
		Help:      "Topology refresh cycles by outcome",
	}, []string{"result"})

	refreshRunDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "topoview",
		Name:      "refresh_run_duration_seconds",
		Help:      "Duration of refresh cycles from first request to published snapshot",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	retrievalRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topoview",
		Name:      "retrieval_retries_total",
		Help:      "Dashboard API request retries by operation",
	}, []string{"op"})

	graphNodes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "topoview",
		Name:      "graph_nodes",
		Help:      "Nodes in the current topology snapshot by role",
	}, []string{"role"})

	graphEdges := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "topoview",
		Name:      "graph_edges",
		Help:      "Edges in the current topology snapshot by kind",
	}, []string{"kind"})

	layoutIterations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "topoview",
		Name:      "layout_iterations_total",
		Help:      "Layout simulation ticks executed",
	})

	layoutNonConvergence := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "topoview",
		Name:      "layout_nonconvergence_total",
		Help:      "Layout simulations stopped at the iteration cap",
	}, []string{"policy"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		refreshRuns,
		refreshRunDuration,
		retrievalRetries,
		graphNodes,
		graphEdges,
		layoutIterations,
		layoutNonConvergence,
	)

	return &Metrics{
		registry:             registry,
		httpRequests:         httpRequests,
		httpRequestDuration:  httpRequestDuration,
		refreshRuns:          refreshRuns,
		refreshRunDuration:   refreshRunDuration,
		retrievalRetries:     retrievalRetries,
		graphNodes:           graphNodes,
		graphEdges:           graphEdges,
		layoutIterations:     layoutIterations,
		layoutNonConvergence: layoutNonConvergence,
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

// ObserveRefresh records one refresh cycle and its outcome.
func (m *Metrics) ObserveRefresh(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.refreshRuns.WithLabelValues(result).Inc()
	m.refreshRunDuration.Observe(duration.Seconds())
}

// IncRetry counts one retried dashboard request.
func (m *Metrics) IncRetry(op string) {
	if m == nil {
		return
	}
	m.retrievalRetries.WithLabelValues(op).Inc()
}

// SetGraphCounts replaces the snapshot gauges.
func (m *Metrics) SetGraphCounts(nodesByRole, edgesByKind map[string]int) {
	if m == nil {
		return
	}
	m.graphNodes.Reset()
	m.graphEdges.Reset()
	for role, n := range nodesByRole {
		m.graphNodes.WithLabelValues(role).Set(float64(n))
	}
	for kind, n := range edgesByKind {
		m.graphEdges.WithLabelValues(kind).Set(float64(n))
	}
}

// ObserveLayout records a finished layout simulation.
func (m *Metrics) ObserveLayout(policy string, iterations int, converged bool) {
	if m == nil {
		return
	}
	m.layoutIterations.Add(float64(iterations))
	if !converged {
		m.layoutNonConvergence.WithLabelValues(policy).Inc()
	}
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
