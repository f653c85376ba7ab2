// Package api provides HTTP handlers and the main API server logic for SurveyPipe.
//
// It exposes the inbound Twilio SMS webhook plus operational endpoints for
// listing surveys, reloading definitions, and inspecting collected responses.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/messaging"
	"github.com/BTreeMap/SurveyPipe/internal/scheduler"
	"github.com/BTreeMap/SurveyPipe/internal/store"
	"github.com/BTreeMap/SurveyPipe/internal/survey"
)

// Constants for server configuration
const (
	// DefaultAddr is the default listen address for the API server
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds slow-header attacks on the listener
	DefaultReadHeaderTimeout = 10 * time.Second
	// ExpirySweepCron runs the stale-session sweeper every 15 minutes
	ExpirySweepCron = "*/15 * * * *"
)

// SignatureValidator checks webhook authenticity (implemented by twiliosms.Client).
type SignatureValidator interface {
	ValidateSignature(url string, params map[string]string, signature string) bool
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr      string // listen address, e.g. ":8080"
	PublicURL string // externally visible base URL used for webhook signature validation
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithPublicURL sets the externally visible base URL for signature validation.
func WithPublicURL(url string) Option {
	return func(o *Opts) { o.PublicURL = url }
}

// Server wires the store, survey loader, response handler, and messaging
// service behind HTTP endpoints.
type Server struct {
	st          store.Store
	loader      *survey.Loader
	respHandler *messaging.ResponseHandler
	msgService  messaging.Service
	validator   SignatureValidator
	sched       *scheduler.Scheduler
	addr        string
	publicURL   string
	httpServer  *http.Server
}

// NewServer creates a Server. The signature validator may be nil, in which
// case webhook signature validation is skipped (local development only).
func NewServer(st store.Store, loader *survey.Loader, respHandler *messaging.ResponseHandler, msgService messaging.Service, validator SignatureValidator, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	slog.Debug("api.NewServer: configured", "addr", cfg.Addr, "public_url_set", cfg.PublicURL != "", "signature_validation", validator != nil)
	return &Server{
		st:          st,
		loader:      loader,
		respHandler: respHandler,
		msgService:  msgService,
		validator:   validator,
		addr:        cfg.Addr,
		publicURL:   cfg.PublicURL,
	}
}

// routes builds the HTTP mux for the server.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/sms", s.smsWebhookHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/surveys", s.surveysHandler)
	mux.HandleFunc("/surveys/", s.surveyItemHandler)
	mux.HandleFunc("/sessions/stats", s.statsHandler)
	mux.HandleFunc("/responses", s.responsesHandler)
	return mux
}

// Run starts the messaging service, the stale-session sweeper, and the HTTP
// listener. It blocks until the listener fails or ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	go s.respHandler.Listen(ctx, s.msgService)

	s.sched = scheduler.NewScheduler()
	if _, err := s.sched.AddJob(ExpirySweepCron, s.sweepExpiredSessions); err != nil {
		return fmt.Errorf("failed to schedule session expiry sweep: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("API server shutting down")
		return s.Stop()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("API server failed", "error", err)
			return err
		}
		return nil
	}
}

// Stop shuts down the HTTP listener, scheduler, and messaging service.
func (s *Server) Stop() error {
	if s.sched != nil {
		s.sched.Stop()
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Error("Failed to shut down HTTP server cleanly", "error", err)
		}
	}
	if err := s.msgService.Stop(); err != nil {
		slog.Error("Failed to stop messaging service", "error", err)
	}
	return nil
}

// sweepExpiredSessions marks sessions older than each survey's timeout as
// completed. Runs on the cron scheduler.
func (s *Server) sweepExpiredSessions() {
	ids, err := s.loader.ListSurveys()
	if err != nil {
		slog.Error("Session expiry sweep: failed to list surveys", "error", err)
		return
	}
	for _, id := range ids {
		sv, err := s.loader.Load(id)
		if err != nil {
			slog.Warn("Session expiry sweep: skipping survey that failed to load", "survey_id", id, "error", err)
			continue
		}
		cutoff := time.Now().UTC().Add(-time.Duration(sv.Settings.TimeoutHours) * time.Hour)
		n, err := s.st.ExpireStaleSessions(id, cutoff)
		if err != nil {
			slog.Error("Session expiry sweep: failed to expire sessions", "survey_id", id, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("Session expiry sweep: expired stale sessions", "survey_id", id, "count", n)
		}
	}
}
