// Package server provides the HTTP API for roster.
//
// Every API route except /health and /metrics requires an OIDC bearer token
// carrying the admin role, unless auth is disabled in the config.
//
// # Endpoints
//
//   - GET /health - Simple health check, returns "ok"
//   - GET /metrics - Prometheus metrics
//   - GET /api/status - Build info and expiry sweep schedule
//   - GET /config - Current configuration as YAML, secrets redacted
//   - POST /api/users/batch - Create accounts in bulk
//   - GET /api/users/{email} - Look up a profile
//   - PATCH /api/users/{email} - Update a profile
//   - DELETE /api/users/{email} - Delete an account
//   - POST /api/users/{email}/invitation - Resend the invitation
//   - GET /api/classes/{id} - Look up a class
//   - PATCH /api/classes/{id}/members - Change class membership
//   - POST /api/audit/revert - Record a reversal for operators
//   - POST /api/expiry/sweep - Delete expired accounts now
//   - GET /api/history - Recent batch imports and sweeps
//   - GET /api/history/{id} - One recorded run
//
// Each request builds a fresh orchestrator run, so runs share nothing but the
// gateways and the metrics collectors.
//
// # Example
//
//	srv, err := server.New(ctx, cfg, server.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nomis52/roster/audit"
	"github.com/nomis52/roster/batch"
	"github.com/nomis52/roster/clients/identityclient"
	"github.com/nomis52/roster/clients/mailclient"
	"github.com/nomis52/roster/config"
	"github.com/nomis52/roster/expiry"
	"github.com/nomis52/roster/logging"
	"github.com/nomis52/roster/metrics"
	"github.com/nomis52/roster/roster"
	"github.com/nomis52/roster/server/auth"
	"github.com/nomis52/roster/server/cron"
	"github.com/nomis52/roster/server/handlers"
	"github.com/nomis52/roster/server/history"
	"github.com/nomis52/roster/store"
	"github.com/nomis52/roster/task"
)

const (
	defaultReadTimeout     = 10 * time.Second
	// Batch requests are paced at up to 500ms per account.
	defaultWriteTimeout    = 5 * time.Minute
	defaultShutdownTimeout = 5 * time.Second
)

// Server is the roster HTTP server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	identity roster.IdentityGateway
	store    roster.StoreGateway
	recorder audit.Recorder
	auth     *auth.Middleware
	registry *metrics.ScrapeRegistry

	taskOpts    []task.OrchestratorOption
	reporter    *batch.Reporter
	sweeper     *expiry.Sweeper
	runs        history.Store
	history     *history.Recorder
	cronTrigger *cron.CronTrigger
	certLoader  *CertLoader

	httpServer *http.Server
	closers    []io.Closer
}

// Option configures a Server.
type Option func(*Server) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithGateways uses the given gateways instead of building them from config.
func WithGateways(identity roster.IdentityGateway, store roster.StoreGateway) Option {
	return func(s *Server) error {
		s.identity = identity
		s.store = store
		return nil
	}
}

// WithAuditRecorder uses r instead of building one from config.
func WithAuditRecorder(r audit.Recorder) Option {
	return func(s *Server) error {
		s.recorder = r
		return nil
	}
}

// WithAuth uses m instead of discovering the configured issuer.
func WithAuth(m *auth.Middleware) Option {
	return func(s *Server) error {
		s.auth = m
		return nil
	}
}

// WithHistoryStore records runs in store instead of the configured one.
func WithHistoryStore(store history.Store) Option {
	return func(s *Server) error {
		s.runs = store
		return nil
	}
}

// New creates a Server from cfg. Dependencies not supplied through options
// are built from the config.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    &cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if err := s.build(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	registry, err := metrics.NewScrapeRegistry()
	if err != nil {
		return err
	}
	s.registry = registry

	if s.identity == nil {
		identity, err := NewIdentityClient(ctx, s.cfg, s.logger)
		if err != nil {
			return err
		}
		s.identity = identity
	}
	if s.store == nil {
		st, err := store.Open(s.cfg.Store.Path, store.WithLogger(s.logger))
		if err != nil {
			return err
		}
		s.store = st
		s.closers = append(s.closers, st)
	}
	if s.recorder == nil {
		if err := s.buildRecorder(ctx); err != nil {
			return err
		}
	}
	if s.auth == nil && !s.cfg.Auth.Disabled {
		m, err := auth.New(ctx, auth.Config{
			IssuerURL:  s.cfg.Auth.IssuerURL,
			ClientID:   s.cfg.Auth.ClientID,
			AdminRole:  s.cfg.Auth.AdminRole,
			RolesClaim: s.cfg.Auth.RolesClaim,
		}, s.logger)
		if err != nil {
			return err
		}
		s.auth = m
	}

	taskMetrics, err := task.NewMetrics(registry)
	if err != nil {
		return err
	}
	batchMetrics, err := batch.NewMetrics(registry)
	if err != nil {
		return err
	}
	s.taskOpts = append(s.cfg.Orchestrator.TaskOptions(),
		task.WithLogger(s.logger),
		task.WithMetrics(taskMetrics))

	s.reporter = batch.NewReporter(s.identity, s.store,
		batch.WithLogger(s.logger),
		batch.WithMetrics(batchMetrics),
		batch.WithLogCollector(logging.NewLogCollector()),
		batch.WithTaskOptions(s.taskOpts...))
	s.sweeper = expiry.NewSweeper(s.identity, s.store,
		expiry.WithLogger(s.logger),
		expiry.WithTaskOptions(s.taskOpts...))

	if s.runs == nil {
		if s.cfg.History.Dir == "" {
			s.runs = history.NewMemoryStore(s.cfg.History.MaxRuns)
		} else {
			runs, err := history.NewDiskStore(s.cfg.History.Dir, s.cfg.History.MaxRuns, s.logger)
			if err != nil {
				return err
			}
			s.runs = runs
		}
	}
	s.history = history.NewRecorder(s.runs, history.WithLogger(s.logger))

	if s.cfg.Expiry.Schedule != "" {
		scheduled := s.history.Sweeps(s.sweeper, history.TriggerSchedule)
		trigger, err := cron.NewCronTrigger("expiry", s.cfg.Expiry.Schedule, scheduled.Run, s.logger)
		if err != nil {
			return fmt.Errorf("creating cron trigger: %w", err)
		}
		s.cronTrigger = trigger
	}

	if s.cfg.Server.TLSCertFile != "" {
		loader, err := NewCertLoader(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile, s.logger)
		if err != nil {
			return err
		}
		s.certLoader = loader
	}
	return nil
}

func (s *Server) buildRecorder(ctx context.Context) error {
	if s.cfg.Audit.RedisURL == "" {
		s.recorder = audit.NewLogRecorder(s.logger)
		return nil
	}
	r, err := audit.NewRedisRecorder(ctx, audit.RedisConfig{
		URL:    s.cfg.Audit.RedisURL,
		Stream: s.cfg.Audit.Stream,
		MaxLen: s.cfg.Audit.MaxLen,
	}, s.logger)
	if err != nil {
		return err
	}
	s.recorder = r
	s.closers = append(s.closers, r)
	return nil
}

// NewIdentityClient builds the identity provider client, delivering
// invitations through the mail client when mail is configured.
func NewIdentityClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*identityclient.Client, error) {
	opts := []identityclient.Option{identityclient.WithLogger(logger)}
	if cfg.Mail.Enabled() {
		mailer, err := mailclient.New(mailclient.Config{
			APIKey:  cfg.Mail.APIKey,
			From:    cfg.Mail.From,
			Subject: cfg.Mail.Subject,
		}, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, identityclient.WithMailer(mailer))
	}
	return identityclient.New(ctx, identityclient.Config{
		BaseURL:      cfg.Identity.BaseURL,
		TokenURL:     cfg.Identity.TokenURL,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		Scopes:       cfg.Identity.Scopes,
		Timeout:      cfg.Identity.Timeout,
	}, opts...)
}

// Close releases the store and audit connections.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Config returns the server's configuration.
func (s *Server) Config() *config.Config {
	return s.cfg
}

// NewRun returns an orchestrator for a single request.
func (s *Server) NewRun() *task.Orchestrator {
	return task.NewOrchestrator(s.identity, s.store, s.taskOpts...)
}

// NextSweep returns the next scheduled expiry sweep, or nil if none is
// scheduled.
func (s *Server) NextSweep() *time.Time {
	if s.cronTrigger == nil {
		return nil
	}
	next := s.cronTrigger.NextRun()
	return &next
}

// LastSweep returns when the scheduled sweep last finished and its error.
func (s *Server) LastSweep() (time.Time, error) {
	if s.cronTrigger == nil {
		return time.Time{}, nil
	}
	return s.cronTrigger.LastRun()
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs a graceful shutdown when the context is done.
// If an expiry schedule is configured, the sweep is started as well.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}
	if s.certLoader != nil {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: s.certLoader.GetCertificate,
		}
	}

	if s.cronTrigger != nil {
		s.cronTrigger.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"addr", s.cfg.Server.ListenAddr,
			"tls", s.certLoader != nil,
			"auth", s.auth != nil,
		)
		var err error
		if s.certLoader != nil {
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	users := handlers.NewUsersHandler(s.logger, s)
	classes := handlers.NewClassesHandler(s.logger, s)
	runs := handlers.NewHistoryHandler(s.logger, s.runs)

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.Handle("GET /metrics", s.registry.Handler())

	protect := func(h http.Handler) http.Handler {
		if s.auth == nil {
			return h
		}
		return s.auth.Wrap(h)
	}
	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, protect(h))
	}

	handle("GET /api/status", handlers.NewAPIStatusHandler(s.logger, s))
	handle("GET /config", handlers.NewConfigHandler(s))
	handle("POST /api/users/batch", handlers.NewBatchHandler(s.logger, s.history.Accounts(s.reporter)))
	handle("GET /api/users/{email}", http.HandlerFunc(users.Get))
	handle("PATCH /api/users/{email}", http.HandlerFunc(users.Update))
	handle("DELETE /api/users/{email}", http.HandlerFunc(users.Delete))
	handle("POST /api/users/{email}/invitation", http.HandlerFunc(users.ResendInvitation))
	handle("GET /api/classes/{id}", http.HandlerFunc(classes.Get))
	handle("PATCH /api/classes/{id}/members", http.HandlerFunc(classes.UpdateMembers))
	handle("POST /api/audit/revert", handlers.NewRevertHandler(s.logger, s.recorder))
	handle("POST /api/expiry/sweep", handlers.NewSweepHandler(s.logger, s.history.Sweeps(s.sweeper, history.TriggerAPI)))
	handle("GET /api/history", http.HandlerFunc(runs.List))
	handle("GET /api/history/{id}", http.HandlerFunc(runs.Get))
}
