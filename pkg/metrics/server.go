package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shawkym/roomsync/pkg/log"
)

// Server exposes the registry over HTTP.
type Server struct {
	addr     string
	server   *http.Server
	registry *prometheus.Registry
	metrics  *Metrics
}

// ServerConfig configures the metrics listener.
type ServerConfig struct {
	Addr         string // default ":9090"
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Registry     *prometheus.Registry // created when nil
}

// NewServer builds the server and registers a fresh Metrics on its registry.
func NewServer(config ServerConfig) *Server {
	if config.Addr == "" {
		config.Addr = ":9090"
	}

	if config.ReadTimeout == 0 {
		config.ReadTimeout = 5 * time.Second
	}

	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	metrics := NewMetrics(registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/", indexHandler)

	server := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return &Server{
		addr:     config.Addr,
		server:   server,
		registry: registry,
		metrics:  metrics,
	}
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	log.WithField("addr", s.addr).Info("starting metrics server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("metrics server failed")
		return fmt.Errorf("metrics server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info("stopping metrics server")

	if err := s.server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("metrics server shutdown failed")
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}

	log.Info("metrics server stopped")
	return nil
}

// GetMetrics returns the collectors registered on this server's registry.
func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

// Handler returns the mux serving /metrics and /health.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// GetRegistry returns the Prometheus registry.
func (s *Server) GetRegistry() *prometheus.Registry {
	return s.registry
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":"roomsync-metrics"}`)
}

func indexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>roomsync metrics</title></head>
<body>
    <h1>roomsync</h1>
    <ul>
        <li><a href="/metrics">/metrics</a> Prometheus metrics (OpenMetrics)</li>
        <li><a href="/health">/health</a> health check</li>
    </ul>
    <h2>Available Metrics</h2>
    <ul>
        <li><code>roomsync_sync_requests_total</code> sync requests by status</li>
        <li><code>roomsync_sync_duration_seconds</code> sync duration histogram</li>
        <li><code>roomsync_cursor_advances_total</code> cursor overwrites</li>
        <li><code>roomsync_events_dispatched_total</code> events by variant</li>
        <li><code>roomsync_observer_failures_total</code> observer failures by observer and variant</li>
        <li><code>roomsync_login_attempts_total</code> login attempts by status</li>
        <li><code>roomsync_write_requests_total</code> join and send requests</li>
        <li><code>roomsync_rate_limit_hits_total</code> M_LIMIT_EXCEEDED responses</li>
        <li><code>roomsync_directory_rooms</code> rooms in the directory</li>
    </ul>
</body>
</html>`)
}
