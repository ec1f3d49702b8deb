package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthFunc reports whether the process is healthy. A nil error means
// healthy.
type HealthFunc func() error

// Server is a standalone listener exposing /metrics and /health, for
// deployments that scrape a port separate from the API.
type Server struct {
	port    int
	version string
	health  HealthFunc
	mux     *http.ServeMux
	server  *http.Server
	log     zerolog.Logger
	mu      sync.Mutex
}

// NewServer creates a metrics server. health may be nil.
func NewServer(port int, version string, health HealthFunc, log zerolog.Logger) *Server {
	return &Server{
		port:    port,
		version: version,
		health:  health,
		mux:     http.NewServeMux(),
		log:     log.With().Str("component", "metrics_server").Logger(),
	}
}

// Start starts listening in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Int("port", s.port).Msg("Starting metrics server")

	srv := s.server
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	return nil
}

// RegisterHandler adds a handler to the metrics listener.
func (s *Server) RegisterHandler(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status, code, detail := "healthy", http.StatusOK, ""
	if s.health != nil {
		if err := s.health(); err != nil {
			status, code, detail = "unhealthy", http.StatusServiceUnavailable, err.Error()
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    status,
		"detail":    detail,
		"version":   s.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.log.Info().Msg("Shutting down metrics server")

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}

	s.log.Info().Msg("Metrics server shutdown complete")
	return nil
}
