// Package server exposes the engine over a JSON HTTP API plus a
// websocket event feed for the dashboard.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quietloop/engram/internal/engine"
)

// Server wraps the HTTP boundary around the engine.
type Server struct {
	engine *engine.Engine
	hub    *EventHub
	http   *http.Server
	logger *slog.Logger
}

// New builds the server and wires the engine's event sink into the
// websocket hub. Must be called before engine.Start.
func New(eng *engine.Engine, host string, port int) *Server {
	s := &Server{
		engine: eng,
		hub:    NewEventHub(),
		logger: slog.With("component", "server"),
	}
	eng.SetEventSink(s.hub.Broadcast)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Routes builds the router. Exposed separately so tests can drive the
// handlers through httptest without a listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Post("/ingest", s.handleIngest)
		r.Get("/search", s.handleSearch)
		r.Post("/context", s.handleAssembleContext)

		r.Route("/commitments", func(r chi.Router) {
			r.Get("/", s.handleListCommitments)
			r.Post("/", s.handleAddCommitment)
			r.Post("/{id}/complete", s.handleCompleteCommitment)
			r.Post("/{id}/cancel", s.handleCancelCommitment)
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Post("/", s.handleCaptureSnapshot)
			r.Get("/resume", s.handleResumeSnapshot)
		})

		r.Get("/health", s.handleHealth)
		r.Post("/admin/consolidate", s.handleConsolidate)
	})

	r.Get("/ws", s.hub.Subscribe)
	return r
}

// ListenAndServe starts the listener and blocks until the context is
// cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	s.logger.Info("listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "elapsed", time.Since(start))
	})
}
