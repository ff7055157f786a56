// Package metrics exposes Prometheus metrics for the factory server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Create outcomes used as the "outcome" label.
const (
	OutcomeSuccess          = "success"
	OutcomeUnauthorized     = "unauthorized"
	OutcomeInvalidInput     = "invalid_input"
	OutcomeDeployFailed     = "deploy_failed"
	OutcomeIdentityMismatch = "identity_mismatch"
	OutcomeCommitFailed     = "commit_failed"
	OutcomeError            = "error"
)

// MetricsServer serves a private Prometheus registry on its own listener.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server
}

// New creates a metrics server with Go runtime and process collectors registered.
// namespace prefixes every metric created through the server.
func New(namespace, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace})); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Registry returns the registry collectors should be registered with.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics handler.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// RegistryMetrics tracks deployment requests.
type RegistryMetrics struct {
	createTotal    *prometheus.CounterVec
	createDuration prometheus.Histogram
}

// NewRegistryMetrics registers the deployment metrics with reg. length is sampled on
// every scrape for the registry size gauge; it may be nil.
func NewRegistryMetrics(reg prometheus.Registerer, namespace string, length func() int) (*RegistryMetrics, error) {
	m := &RegistryMetrics{
		createTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "create_requests_total",
			Help:      "Deployment requests by outcome.",
		}, []string{"outcome"}),
		createDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "create_duration_seconds",
			Help:      "Time spent constructing, validating and committing deployments.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	toRegister := []prometheus.Collector{m.createTotal, m.createDuration}
	if length != nil {
		toRegister = append(toRegister, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_instances",
			Help:      "Number of registered instances.",
		}, func() float64 { return float64(length()) }))
	}

	for _, c := range toRegister {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveCreate records one deployment request.
func (m *RegistryMetrics) ObserveCreate(outcome string, took time.Duration) {
	m.createTotal.WithLabelValues(outcome).Inc()
	m.createDuration.Observe(took.Seconds())
}
