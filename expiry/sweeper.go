// Package expiry deletes accounts whose expiration date has passed.
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nomis52/roster/apperr"
	"github.com/nomis52/roster/roster"
	"github.com/nomis52/roster/task"
)

// Result summarises one sweep.
type Result struct {
	Deleted []string `json:"deleted"`
	Failed  []Failed `json:"failed"`
}

// Failed is an expired account that could not be deleted.
type Failed struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// Sweeper lists expired profiles and deletes them in a single run.
type Sweeper struct {
	identity roster.IdentityGateway
	store    roster.StoreGateway
	logger   *slog.Logger
	now      func() time.Time
	taskOpts []task.OrchestratorOption
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithClock overrides the clock used to decide what has expired.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		s.now = now
	}
}

// WithTaskOptions passes options to every orchestrator the sweeper creates.
func WithTaskOptions(opts ...task.OrchestratorOption) Option {
	return func(s *Sweeper) {
		s.taskOpts = append(s.taskOpts, opts...)
	}
}

// NewSweeper creates a Sweeper.
func NewSweeper(identity roster.IdentityGateway, store roster.StoreGateway, opts ...Option) *Sweeper {
	s := &Sweeper{
		identity: identity,
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "expiry")
	return s
}

// Err returns an error if any expired account remains.
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d expired accounts could not be deleted",
		len(r.Failed), len(r.Failed)+len(r.Deleted))
}

// Run performs a sweep, returning an error if any expired account remains.
func (s *Sweeper) Run(ctx context.Context) error {
	res, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	return res.Err()
}

// Sweep deletes every account that expired before now. An error is returned
// only if the expired accounts could not be listed.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	now := s.now()
	expired, err := s.store.ListExpiredUsers(ctx, now)
	if err != nil {
		return Result{}, fmt.Errorf("listing expired accounts: %w", err)
	}
	res := Result{Deleted: []string{}, Failed: []Failed{}}
	if len(expired) == 0 {
		s.logger.Info("no expired accounts", "before", now)
		return res, nil
	}

	opts := append([]task.OrchestratorOption{task.WithLogger(s.logger)}, s.taskOpts...)
	o := task.NewOrchestrator(s.identity, s.store, opts...)
	for _, p := range expired {
		if err := o.DeleteUser(p.Email); err != nil {
			s.logger.Warn("cannot schedule deletion", "email", p.Email, "error", err)
			res.Failed = append(res.Failed, Failed{Email: p.Email, Reason: apperr.Reason(err)})
		}
	}
	if err := o.Run(ctx); err != nil {
		return Result{}, err
	}

	for _, r := range o.Results() {
		if r.IsSuccess() {
			res.Deleted = append(res.Deleted, r.Step.Key())
			continue
		}
		res.Failed = append(res.Failed, Failed{Email: r.Step.Key(), Reason: r.Reason()})
	}

	s.logger.Info("expiry sweep completed", "deleted", len(res.Deleted), "failed", len(res.Failed))
	return res, nil
}
