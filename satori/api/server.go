package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Server is the audit HTTP API.
type Server struct {
	server *http.Server
	mux    *http.ServeMux
}

// NewServer creates a server listening on addr.
func NewServer(addr string, h *Handlers) *Server {
	mux := http.NewServeMux()

	SetupRoutes(mux, h)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy","service":"satori-audit"}`)); err != nil {
			slog.Error("Failed to write health response", "error", err)
		}
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		server: server,
		mux:    mux,
	}
}

// Start serves until Stop or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Starting audit API server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Stopping audit API server")
	return s.server.Shutdown(ctx)
}

// Stop closes the server immediately.
func (s *Server) Stop() error {
	slog.Info("Stopping audit API server")
	return s.server.Close()
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	return s.mux
}
