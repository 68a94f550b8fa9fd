// Package history keeps a bounded record of batch imports and expiry sweeps
// so operators can see what ran, who ran it and which items failed.
package history

import (
	"time"
)

// Kind is the type of operation a run performed.
type Kind string

const (
	KindBatch Kind = "batch"
	KindSweep Kind = "sweep"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerAPI      Trigger = "api"
	TriggerSchedule Trigger = "schedule"
)

// Failure is one item of a run that did not succeed.
type Failure struct {
	// Key is the email address the item was about.
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Run summarises a finished run.
type Run struct {
	ID      string  `json:"id"`
	Kind    Kind    `json:"kind"`
	Trigger Trigger `json:"trigger"`
	// Actor is the subject of the authenticated caller, empty for scheduled
	// runs or when auth is disabled.
	Actor     string    `json:"actor,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	// Error is set when the run as a whole failed.
	Error    string    `json:"error,omitempty"`
	Failures []Failure `json:"failures,omitempty"`
}

// Store manages persistence of run history. Implementations return runs
// most recent first.
type Store interface {
	History() []Run
	Get(id string) (Run, bool)
	Save(Run) error
}
