// Package api provides a thin, read-only downstream HTTP surface over the
// sync store: health, materialized events, and per-filter counts. It is an
// operability aid, not the GraphQL/HTTP indexing surface the project leaves
// to a separate downstream layer.
//
// @title chainsync API
// @version 1.0
// @description Read-only operability surface over the sync store
// @basePath /api/v1
// @schemes http
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/oxSaturn/chainsync/internal/config"
	"github.com/oxSaturn/chainsync/internal/coordinator"
	"github.com/oxSaturn/chainsync/internal/logger"
	"github.com/oxSaturn/chainsync/internal/syncstore"
	_ "github.com/oxSaturn/chainsync/pkg/api/docs"
)

const shutdownCtxTimeout = 10 * time.Second

// Server is the API HTTP server.
type Server struct {
	cfg     *config.APIConfig
	handler *Handler
	server  *http.Server
	log     *logger.Logger
}

// NewServer builds the API server, wiring its handlers and middleware chain.
func NewServer(cfg *config.APIConfig, store *syncstore.Store, coord *coordinator.Coordinator, log *logger.Logger) *Server {
	handler := NewHandler(store, coord, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handler.Health)
	mux.HandleFunc("GET /api/v1/events", handler.GetEvents)
	mux.HandleFunc("GET /api/v1/stats", handler.GetStats)
	mux.Handle("GET /docs/", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
		httpSwagger.DeepLinking(true),
	))

	var h http.Handler = mux
	h = RecoveryMiddleware(log)(h)
	h = LoggingMiddleware(log)(h)

	return &Server{
		cfg: cfg,
		handler: handler,
		server: &http.Server{
			Addr:              cfg.ListenAddress,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start runs the server until ctx is canceled, then shuts it down gracefully.
// A disabled server returns immediately.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("API server is disabled")
		return nil
	}

	s.log.Infow("starting API server", "address", s.cfg.ListenAddress)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api: server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownCtxTimeout)
	defer cancel()

	s.log.Info("shutting down API server")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}

	return nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
