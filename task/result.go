package task

import (
	"errors"
	"time"

	"github.com/nomis52/roster/apperr"
	"github.com/nomis52/roster/roster"
)

// ErrSkipped is wrapped by the error of steps that never ran because an
// earlier run-fatal step failed.
var ErrSkipped = errors.New("skipped")

// StepState is the execution state of a step.
type StepState int

const (
	// NotStarted steps are waiting for Run to reach them.
	NotStarted StepState = iota
	// Running is the state of the step currently executing.
	Running
	// Skipped steps were never attempted because a run-fatal step failed.
	Skipped
	// StepCompleted steps were attempted. Check Err for the outcome.
	StepCompleted
)

func (s StepState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Skipped:
		return "skipped"
	case StepCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// StepResult is the outcome of one step.
type StepResult struct {
	Step  Step
	State StepState

	// Profile is set by user steps that produced or observed a profile.
	Profile *roster.Profile
	// Group is set by class steps.
	Group *roster.Group

	// Err is nil on success.
	Err error
	// Committed is true when a store mutation made by the step persists even
	// though the step failed afterwards.
	Committed bool
	// Attempts counts executions of the step, including retries.
	Attempts int

	StartedAt time.Time
	EndedAt   time.Time
}

// IsSuccess returns true if the step ran and returned no error.
func (r StepResult) IsSuccess() bool {
	return r.State == StepCompleted && r.Err == nil
}

// Reason is the user-facing failure message, "" on success.
func (r StepResult) Reason() string {
	return apperr.Reason(r.Err)
}

// Duration is the wall-clock time spent on the step, pacing included.
func (r StepResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// outcome is the metrics label for the result.
func (r StepResult) outcome() string {
	switch {
	case r.State == Skipped:
		return "skipped"
	case r.Err == nil:
		return "success"
	case apperr.IsApplication(r.Err):
		return "rejected"
	default:
		return "error"
	}
}
