package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iammrherb/labdabbler/pkg/logging"
)

// Metrics holds the Prometheus instruments for lab lifecycle operations
// and the HTTP surface.
type Metrics struct {
	registry *prometheus.Registry

	LabsLaunched    *prometheus.CounterVec
	LaunchFailures  *prometheus.CounterVec
	LabsStopped     *prometheus.CounterVec
	DestroyFailures *prometheus.CounterVec
	ActiveLabs      prometheus.Gauge
	LaunchDuration  *prometheus.HistogramVec
	ProviderHealthy *prometheus.GaugeVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics builds and registers all instruments under the given
// namespace and subsystem on a fresh registry.
func NewMetrics(namespace, subsystem string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		LabsLaunched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "labs_launched_total",
			Help:      "Labs launched successfully, by provider",
		}, []string{"provider"}),
		LaunchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "launch_failures_total",
			Help:      "Failed launch attempts, by provider and stage",
		}, []string{"provider", "stage"}),
		LabsStopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "labs_stopped_total",
			Help:      "Labs stopped, by provider",
		}, []string{"provider"}),
		DestroyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "destroy_failures_total",
			Help:      "Destroy commands that failed during stop, by provider",
		}, []string{"provider"}),
		ActiveLabs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "active_labs",
			Help:      "Labs currently in the registry",
		}),
		LaunchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "launch_duration_seconds",
			Help:      "Time from launch request to deploy completion",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"provider"}),
		ProviderHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_healthy",
			Help:      "1 when the provider's last health probe passed",
		}, []string{"provider"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, path and status",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	registry.MustRegister(
		m.LabsLaunched,
		m.LaunchFailures,
		m.LabsStopped,
		m.DestroyFailures,
		m.ActiveLabs,
		m.LaunchDuration,
		m.ProviderHealthy,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server exposes metrics on a dedicated listener, separate from the API
// port.
type Server struct {
	srv    *http.Server
	logger *logging.Logger
}

// NewServer builds a metrics server on the given port.
func NewServer(port int, metrics *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logging.WithComponent("monitoring"),
	}
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("metrics server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Shutdown stops the metrics listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
