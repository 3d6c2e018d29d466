// Package server exposes Prometheus metrics and a health report over HTTP
// while the sync daemon runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// HealthFunc builds the /health body. ok false answers 503.
type HealthFunc func(ctx context.Context) (report any, ok bool)

// ObservabilityServer serves /metrics and /health.
type ObservabilityServer struct {
	server *http.Server
	log    zerolog.Logger
}

// Handler returns the observability routes.
func Handler(gatherer prometheus.Gatherer, health HealthFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		report, ok := health(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	})
	return mux
}

// NewObservabilityServer creates a server listening on addr.
func NewObservabilityServer(addr string, gatherer prometheus.Gatherer, health HealthFunc, log zerolog.Logger) *ObservabilityServer {
	return &ObservabilityServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           Handler(gatherer, health),
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Start serves in the background.
func (s *ObservabilityServer) Start() {
	go func() {
		s.log.Info().Str("addr", s.server.Addr).Msg("observability server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("observability server")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *ObservabilityServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
