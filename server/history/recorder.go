package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nomis52/roster/batch"
	"github.com/nomis52/roster/expiry"
	"github.com/nomis52/roster/server/auth"
)

// AccountCreator creates accounts in bulk.
type AccountCreator interface {
	CreateAccounts(ctx context.Context, req batch.Request) (batch.Outcome, error)
}

// Sweeper deletes expired accounts.
type Sweeper interface {
	Sweep(ctx context.Context) (expiry.Result, error)
}

// Recorder saves a Run for every batch import and sweep that passes
// through it. A failure to save is logged and never fails the run.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithClock overrides the clock used to time runs.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder creates a Recorder that saves to store.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "history")
	return r
}

// Store returns the underlying store.
func (r *Recorder) Store() Store {
	return r.store
}

func (r *Recorder) save(ctx context.Context, run Run) {
	run.ID = uuid.NewString()
	if run.EndedAt.IsZero() {
		run.EndedAt = r.now()
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		run.Actor = id.Subject
	}
	if err := r.store.Save(run); err != nil {
		r.logger.Warn("failed to save run", "kind", run.Kind, "error", err)
		return
	}
	r.logger.Debug("saved run", "id", run.ID, "kind", run.Kind,
		"succeeded", run.Succeeded, "failed", run.Failed)
}

// Accounts returns an AccountCreator that records every call to next.
func (r *Recorder) Accounts(next AccountCreator) AccountCreator {
	return &recordingCreator{rec: r, next: next}
}

type recordingCreator struct {
	rec  *Recorder
	next AccountCreator
}

func (c *recordingCreator) CreateAccounts(ctx context.Context, req batch.Request) (batch.Outcome, error) {
	started := c.rec.now()
	outcome, err := c.next.CreateAccounts(ctx, req)

	run := Run{
		Kind:      KindBatch,
		Trigger:   TriggerAPI,
		StartedAt: started,
		Succeeded: len(outcome.Created),
		Failed:    len(outcome.Failed),
	}
	if err != nil {
		run.Error = err.Error()
	}
	for _, f := range outcome.Failed {
		run.Failures = append(run.Failures, Failure{Key: f.Email, Reason: f.Reason})
	}
	c.rec.save(ctx, run)
	return outcome, err
}

// Sweeps returns a Sweeper that records every sweep by next as started by
// trigger.
func (r *Recorder) Sweeps(next Sweeper, trigger Trigger) *RecordingSweeper {
	return &RecordingSweeper{rec: r, next: next, trigger: trigger}
}

// RecordingSweeper records the sweeps it delegates.
type RecordingSweeper struct {
	rec     *Recorder
	next    Sweeper
	trigger Trigger
}

// Sweep runs one sweep and records it.
func (s *RecordingSweeper) Sweep(ctx context.Context) (expiry.Result, error) {
	started := s.rec.now()
	res, err := s.next.Sweep(ctx)

	run := Run{
		Kind:      KindSweep,
		Trigger:   s.trigger,
		StartedAt: started,
		Succeeded: len(res.Deleted),
		Failed:    len(res.Failed),
	}
	if err != nil {
		run.Error = err.Error()
	}
	for _, f := range res.Failed {
		run.Failures = append(run.Failures, Failure{Key: f.Email, Reason: f.Reason})
	}
	s.rec.save(ctx, run)
	return res, err
}

// Run performs a sweep, returning an error if any expired account remains.
// It has the signature the cron trigger expects.
func (s *RecordingSweeper) Run(ctx context.Context) error {
	res, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	return res.Err()
}
