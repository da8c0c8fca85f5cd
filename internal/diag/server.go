// Package diag exposes the read-only diagnostics surface: engine state for
// the presentation layer, health, and prometheus metrics.
package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type Server struct {
	addr      string
	snapshot  func() any
	connected func() bool
	metrics   *Metrics
	log       *slog.Logger
}

func NewServer(addr string, snapshot func() any, connected func() bool, metrics *Metrics, log *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		snapshot:  snapshot,
		connected: connected,
		metrics:   metrics,
		log:       log,
	}
}

func (s *Server) Run(ctx context.Context) error {
	mux := chi.NewRouter()
	mux.Get("/healthz", s.handleHealthz)
	mux.Get("/state", s.handleState)
	mux.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	server := &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("diagnostics server shutdown failed", "error", err)
		}
	}()

	s.log.InfoContext(ctx, "starting diagnostics server", "address", s.addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": s.connected(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
