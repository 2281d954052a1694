package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"scribeline/internal/audit"
	"scribeline/internal/config"
	"scribeline/internal/crypt"
	"scribeline/internal/logging"
	"scribeline/internal/pipeline"
	"scribeline/internal/store"
)

// Server hosts the front-end HTTP API.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	crypto    *crypt.Manager
	audit     *audit.Log
	scheduler *pipeline.Scheduler
	logger    *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the API over the shared components.
func NewServer(cfg *config.Config, st *store.Store, crypto *crypt.Manager, auditLog *audit.Log, scheduler *pipeline.Scheduler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		store:     st,
		crypto:    crypto,
		audit:     auditLog,
		scheduler: scheduler,
		logger:    logging.NewComponentLogger(logger, "api"),
	}
	s.httpServer = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/api/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		if token := s.cfg.Paths.APIToken; token != "" {
			r.Use(bearerAuth(token))
		}
		r.Get("/api/status", s.handleStatus)
		r.Post("/api/appointments", s.handleSubmit)
		r.Get("/api/appointments", s.handleList)
		r.Get("/api/appointments/{id}", s.handleGet)
		r.Get("/api/appointments/{id}/events", s.handleEvents)
		r.Get("/api/appointments/{id}/artifacts/{kind}", s.handleArtifact)
		r.Get("/api/audit/verify", s.handleAuditVerify)
		r.Get("/api/logs", s.handleLogs)
	})
	return r
}

// Start begins serving on the configured bind address.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Paths.APIBind)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Info("api listening", logging.String("addr", listener.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped", logging.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Paths.APIBind
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
