package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nomis52/roster/apperr"
	"github.com/nomis52/roster/logging"
	"github.com/nomis52/roster/roster"
)

// ErrRunStarted is returned when a step is enqueued, or Run is called, after
// the run has begun executing.
var ErrRunStarted = errors.New("run already started")

// State is the lifecycle state of a run.
type State int

const (
	// Building runs accept enqueues.
	Building State = iota
	// Executing runs are working through their steps.
	Executing
	// Completed runs have attempted or skipped every step.
	Completed
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Executing:
		return "executing"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Orchestrator builds and executes a single run of steps.
type Orchestrator struct {
	identity roster.IdentityGateway
	store    roster.StoreGateway

	logger    *slog.Logger
	collector *logging.LogCollector
	metrics   *Metrics
	pacing    Pacing
	retry     RetryPolicy
	runID     string

	mu       sync.RWMutex
	state    State
	steps    []Step
	results  []StepResult
	users    map[string]roster.Profile
	groups   map[string]roster.Group
	creating map[string]bool
	deleting map[string]bool
}

// OrchestratorOption is a function that configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithLogger sets a custom logger for the orchestrator
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithLogCollector captures each step's log records in collector. Read them
// back with StepLogs.
func WithLogCollector(collector *logging.LogCollector) OrchestratorOption {
	return func(o *Orchestrator) {
		o.collector = collector
	}
}

// WithMetrics records step counts and durations.
func WithMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithPacing replaces the default per-kind pacing delays.
func WithPacing(p Pacing) OrchestratorOption {
	return func(o *Orchestrator) {
		o.pacing = p
	}
}

// WithRetry sets the retry policy for SafeToRetry steps.
func WithRetry(p RetryPolicy) OrchestratorOption {
	return func(o *Orchestrator) {
		o.retry = p
	}
}

// NewOrchestrator creates an orchestrator in the Building state.
func NewOrchestrator(identity roster.IdentityGateway, store roster.StoreGateway, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		identity: identity,
		store:    store,
		logger:   slog.Default(),
		pacing:   DefaultPacing(),
		retry:    DefaultRetryPolicy(),
		runID:    uuid.NewString(),
		users:    make(map[string]roster.Profile),
		groups:   make(map[string]roster.Group),
		creating: make(map[string]bool),
		deleting: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "task", "run_id", o.runID)

	return o
}

// RunID is a random identifier attached to every log record of the run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Steps returns the enqueued steps in order.
func (o *Orchestrator) Steps() []Step {
	o.mu.RLock()
	defer o.mu.RUnlock()
	steps := make([]Step, len(o.steps))
	copy(steps, o.steps)
	return steps
}

// Run executes every enqueued step in order and returns once each has been
// attempted or skipped. Step failures are reported through Results and Err,
// not through the return value, which is non-nil only when Run is called on
// a run that has already started.
//
// ctx is handed to gateway calls. Run itself does not stop when ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.state != Building {
		o.mu.Unlock()
		return ErrRunStarted
	}
	o.state = Executing
	steps := o.steps
	o.results = make([]StepResult, len(steps))
	for i, step := range steps {
		o.results[i] = StepResult{Step: step, State: NotStarted}
	}
	o.mu.Unlock()

	start := time.Now()
	o.logger.Info("starting run", "steps", len(steps))

	var fatal *Step
	failed := 0
	for i := range steps {
		step := steps[i]
		if fatal != nil {
			o.finish(StepResult{
				Step:  step,
				State: Skipped,
				Err:   fmt.Errorf("%w: run-fatal step %s failed", ErrSkipped, fatal.ID()),
			})
			continue
		}

		result := o.execute(ctx, step)
		if !result.IsSuccess() {
			failed++
			if step.fatal {
				fatal = &step
				o.logger.Warn("run-fatal step failed, skipping remaining steps",
					"step", step.ID(), "remaining", len(steps)-i-1)
			}
		}
	}

	o.mu.Lock()
	o.state = Completed
	o.mu.Unlock()

	o.logger.Info("run completed", "steps", len(steps), "failed", failed, "duration", time.Since(start))
	return nil
}

// execute runs one step and records its result.
func (o *Orchestrator) execute(ctx context.Context, step Step) StepResult {
	logger := o.logger.With("step", step.ID(), "kind", step.kind.String())
	if o.collector != nil {
		logger = o.collector.LoggerFor(logger, o.logKey(step))
	}

	o.setRunning(step.index)
	result := StepResult{Step: step, State: StepCompleted, StartedAt: time.Now()}
	logger.Debug("executing step")

	attempts, err := o.attempt(step, logger, func() error {
		out := o.apply(ctx, step, logger)
		result.Profile = out.profile
		result.Group = out.group
		result.Committed = result.Committed || out.committed
		o.pace(step.kind, logger)
		return out.err
	})
	result.Attempts = attempts
	result.Err = err
	result.EndedAt = time.Now()

	switch {
	case err == nil:
		logger.Info("step succeeded", "duration", result.Duration())
	case apperr.IsApplication(err):
		logger.Info("step rejected", "reason", result.Reason(), "committed", result.Committed)
	default:
		logger.Error("step failed", "error", err, "committed", result.Committed, "attempts", attempts)
	}

	o.finish(result)
	return result
}

func (o *Orchestrator) setRunning(index int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[index].State = Running
}

// finish stores the result and, on success, updates the result index.
func (o *Orchestrator) finish(r StepResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.results[r.Step.index] = r
	if !r.IsSuccess() {
		o.metrics.record(r)
		return
	}

	key := r.Step.key
	switch r.Step.kind {
	case KindDeleteUser:
		delete(o.users, key)
	case KindFindGroup, KindUpdateGroup:
		if r.Group != nil {
			o.groups[key] = *r.Group
		}
	default:
		if r.Profile != nil {
			o.users[key] = *r.Profile
		}
	}
	o.metrics.record(r)
}

// Results returns a copy of every step result in enqueue order. Before Run it
// returns nil.
func (o *Orchestrator) Results() []StepResult {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.results == nil {
		return nil
	}
	results := make([]StepResult, len(o.results))
	copy(results, o.results)
	return results
}

// Err joins the errors of every failed step, or returns nil if all steps
// succeeded. Skipped steps are not included.
func (o *Orchestrator) Err() error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var errs []error
	for _, r := range o.results {
		if r.State == StepCompleted && r.Err != nil {
			errs = append(errs, fmt.Errorf("step %s: %w", r.Step.ID(), r.Err))
		}
	}
	return errors.Join(errs...)
}

// GetSingleUser returns the profile the run recorded for email. found is
// false if no successful step produced it. err is returned only for a
// malformed email.
func (o *Orchestrator) GetSingleUser(email string) (roster.Profile, bool, error) {
	key, err := roster.NormalizeEmail(email)
	if err != nil {
		return roster.Profile{}, false, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.users[key]
	return p, ok, nil
}

// GetGroup returns the class the run recorded for id. found is false if no
// successful step produced it. err is returned only for a malformed id.
func (o *Orchestrator) GetGroup(id string) (roster.Group, bool, error) {
	key, err := roster.NormalizeGroupID(id)
	if err != nil {
		return roster.Group{}, false, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	g, ok := o.groups[key]
	return g, ok, nil
}

// StepLogs returns the log records captured for step. It returns nil unless
// the orchestrator was created WithLogCollector.
func (o *Orchestrator) StepLogs(step Step) []logging.LogEntry {
	if o.collector == nil {
		return nil
	}
	return o.collector.Entries(o.logKey(step))
}

// ReleaseLogs drops this run's captured records from the collector. Call it
// once StepLogs is no longer needed when the collector outlives the run.
func (o *Orchestrator) ReleaseLogs() {
	if o.collector == nil {
		return
	}
	steps := o.Steps()
	keys := make([]string, len(steps))
	for i, step := range steps {
		keys[i] = o.logKey(step)
	}
	o.collector.Remove(keys...)
	o.logger.Debug("released step logs", "steps", len(keys), "retained_keys", o.collector.Len())
}

func (o *Orchestrator) logKey(step Step) string {
	return o.runID + "/" + step.ID()
}
