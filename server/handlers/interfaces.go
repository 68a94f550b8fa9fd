// Package handlers provides HTTP handlers for the roster server.
//
// Each handler is in its own file and implements http.Handler, or exposes
// one method per route when several routes share a resource. Handlers use
// interfaces to access server dependencies, avoiding circular imports.
package handlers

import (
	"context"
	"time"

	"github.com/nomis52/roster/audit"
	"github.com/nomis52/roster/batch"
	"github.com/nomis52/roster/config"
	"github.com/nomis52/roster/expiry"
	"github.com/nomis52/roster/server/history"
	"github.com/nomis52/roster/task"
)

// ConfigProvider provides access to the current configuration.
type ConfigProvider interface {
	Config() *config.Config
}

// AccountCreator creates accounts in bulk.
type AccountCreator interface {
	CreateAccounts(ctx context.Context, req batch.Request) (batch.Outcome, error)
}

// RunFactory creates a fresh orchestrator for each request.
type RunFactory interface {
	NewRun() *task.Orchestrator
}

// AuditRecorder records reversal events.
type AuditRecorder interface {
	Record(ctx context.Context, r audit.Reversal) error
}

// Sweeper deletes expired accounts on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (expiry.Result, error)
}

// ScheduleProvider reports on the scheduled expiry sweep.
type ScheduleProvider interface {
	// NextSweep returns nil when no sweep is scheduled.
	NextSweep() *time.Time
	LastSweep() (time.Time, error)
}

// RunHistory provides the recorded runs, most recent first.
type RunHistory interface {
	History() []history.Run
	Get(id string) (history.Run, bool)
}
