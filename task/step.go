package task

import (
	"fmt"

	"github.com/nomis52/roster/roster"
)

// Step is one enqueued unit of work. Its inputs are bound at enqueue time and
// it is never modified afterwards.
type Step struct {
	index int
	kind  Kind
	key   string
	fatal bool

	account       roster.NewAccount
	profileUpdate roster.ProfileUpdate
	groupUpdate   roster.GroupUpdate
}

// StepOption configures a Step at enqueue time.
type StepOption func(*Step)

// Fatal marks the step as run-fatal: if it fails, every later step is skipped.
func Fatal() StepOption {
	return func(s *Step) {
		s.fatal = true
	}
}

// Index is the zero-based position of the step in its run.
func (s Step) Index() int { return s.index }

// Kind returns what the step does.
func (s Step) Kind() Kind { return s.kind }

// Key is the normalized email or class id the step operates on.
func (s Step) Key() string { return s.key }

// IsFatal reports whether the step was enqueued with Fatal.
func (s Step) IsFatal() bool { return s.fatal }

// Idempotency is the kind's classification, except that a user update which
// moves classes is NotRetryable since its membership diff is taken from the
// profile before the first attempt.
func (s Step) Idempotency() Idempotency {
	if s.kind == KindUpdateUser && s.profileUpdate.ChangesClasses() {
		return NotRetryable
	}
	return s.kind.Idempotency()
}

// Account returns the input of a create-user step.
func (s Step) Account() roster.NewAccount { return s.account }

// ID identifies the step within its run, e.g. "2:create_user:alice@school.org".
func (s Step) ID() string {
	return fmt.Sprintf("%d:%s:%s", s.index, s.kind, s.key)
}
