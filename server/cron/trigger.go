// Package cron runs scheduled jobs, such as the expired account sweep.
//
// A CronTrigger wraps a RunFunc and executes it according to a cron schedule.
// It is started once and runs until the context is cancelled.
//
// Example usage:
//
//	trigger, err := cron.NewCronTrigger("expiry", "0 3 * * *", sweeper.Run, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	trigger.Start(ctx)  // Returns immediately, runs in background
//	<-ctx.Done()        // Wait for shutdown signal
package cron

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCronSpec is returned when the cron specification cannot be parsed.
var ErrInvalidCronSpec = errors.New("invalid cron spec")

// RunFunc is the job a trigger executes.
type RunFunc func(ctx context.Context) error

// CronTrigger executes a RunFunc according to a cron schedule.
type CronTrigger struct {
	name     string
	spec     string
	schedule cron.Schedule
	run      RunFunc
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewCronTrigger creates a new CronTrigger with the given cron specification.
// The spec follows standard cron format (5 fields: minute, hour, day, month,
// weekday) or a descriptor such as "@daily".
// Returns ErrInvalidCronSpec if the specification cannot be parsed.
func NewCronTrigger(name, spec string, run RunFunc, logger *slog.Logger) (*CronTrigger, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidCronSpec, err)
	}

	return &CronTrigger{
		name:     name,
		spec:     spec,
		schedule: schedule,
		run:      run,
		logger:   logger.With("component", "cron", "job", name),
	}, nil
}

// Start launches a goroutine that triggers runs according to the cron schedule.
// Returns immediately. The goroutine exits when ctx is cancelled.
func (ct *CronTrigger) Start(ctx context.Context) {
	ct.logger.Info("trigger registered", "schedule", ct.spec, "next_run", ct.NextRun())
	go ct.loop(ctx)
}

// NextRun returns the next scheduled run time from now.
func (ct *CronTrigger) NextRun() time.Time {
	return ct.schedule.Next(time.Now())
}

// LastRun returns when the job last finished and its error, if any.
func (ct *CronTrigger) LastRun() (time.Time, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.lastRun, ct.lastErr
}

func (ct *CronTrigger) loop(ctx context.Context) {
	for {
		nextRun := ct.schedule.Next(time.Now())
		waitDuration := time.Until(nextRun)

		ct.logger.Debug("waiting for next scheduled run",
			"next_run", nextRun,
			"wait_duration", waitDuration,
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			ct.logger.Info("cron trigger shutting down")
			return
		case <-timer.C:
			ct.executeRun(ctx)
		}
	}
}

// executeRun executes the job unless the previous run is still going.
func (ct *CronTrigger) executeRun(ctx context.Context) {
	ct.mu.Lock()
	if ct.running {
		ct.mu.Unlock()
		ct.logger.Warn("previous run still in progress, skipping")
		return
	}
	ct.running = true
	ct.mu.Unlock()

	ct.logger.Info("starting scheduled run")
	err := ct.run(ctx)

	ct.mu.Lock()
	ct.running = false
	ct.lastRun = time.Now()
	ct.lastErr = err
	ct.mu.Unlock()

	if err != nil {
		ct.logger.Warn("scheduled run completed with error", "error", err)
	} else {
		ct.logger.Info("scheduled run completed successfully")
	}
}
