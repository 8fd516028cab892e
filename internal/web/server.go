// Package web provides an HTTP status and control server for the
// capture-scheduler daemon.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/sweeney/capture-scheduler/internal/control"
	"github.com/sweeney/capture-scheduler/internal/status"
)

// Controller applies operator commands. *control.Session implements it.
type Controller interface {
	Apply(cmd control.Command) error
}

// Server serves the status page over HTTP and accepts commands.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	ctrl       Controller
	logger     zerolog.Logger
}

// New creates a Server that reads state from tracker. ctrl may be nil, in
// which case the command endpoints are not mounted.
func New(addr string, tracker *status.Tracker, ctrl Controller, logger zerolog.Logger) *Server {
	s := &Server{
		tracker: tracker,
		ctrl:    ctrl,
		logger:  logger.With().Str("component", "web").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	if ctrl != nil {
		r.Route("/api", func(r chi.Router) {
			r.Post("/start", s.handleCommand(control.CommandStart))
			r.Post("/reset", s.handleCommand(control.CommandReset))
			r.Post("/invalidate", s.handleCommand(control.CommandInvalidate))
		})
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap, s.ctrl != nil); err != nil {
		s.logger.Error().Err(err).Msg("render index")
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleCommand(cmd control.Command) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.ctrl.Apply(cmd)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, control.ErrRateLimited):
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
