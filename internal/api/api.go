// Package api exposes the conversation engine over HTTP.
//
// Routes:
//
//	POST   /sessions                 start a conversation
//	POST   /sessions/{id}/messages   send one user message
//	GET    /sessions/{id}            session snapshot
//	DELETE /sessions/{id}            drop a session
//	POST   /phone/validate           progressive phone number feedback
//	GET    /leads                    recorded leads
//	GET    /metrics                  Prometheus metrics
//	GET    /health                   liveness
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// maxBodyBytes caps request bodies.
	maxBodyBytes = 64 << 10
)

// Opts holds server settings.
type Opts struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTimeouts sets the read and write timeouts of the HTTP server.
func WithTimeouts(read, write time.Duration) Option {
	return func(o *Opts) {
		o.ReadTimeout = read
		o.WriteTimeout = write
	}
}

// Server serves the HTTP API.
type Server struct {
	engine *flow.Engine
	store  store.Store
	srv    *http.Server
}

// NewServer builds a Server for engine. st backs the leads listing.
func NewServer(engine *flow.Engine, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, ReadTimeout: 15 * time.Second, WriteTimeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{engine: engine, store: st}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Router returns the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.startSessionHandler)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSessionHandler)
			r.Delete("/", s.deleteSessionHandler)
			r.Post("/messages", s.postMessageHandler)
		})
	})
	r.Post("/phone/validate", s.validatePhoneHandler)
	r.Get("/leads", s.listLeadsHandler)
	return r
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.srv.Addr
}

// ListenAndServe blocks until the server stops. A graceful shutdown is not
// reported as an error.
func (s *Server) ListenAndServe() error {
	slog.Info("Server.ListenAndServe: listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
