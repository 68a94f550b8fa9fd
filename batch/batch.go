// Package batch creates many accounts in one orchestrator run and reports
// which were created and which failed, item by item.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nomis52/roster/apperr"
	"github.com/nomis52/roster/logging"
	"github.com/nomis52/roster/metrics"
	"github.com/nomis52/roster/roster"
	"github.com/nomis52/roster/task"
	"github.com/prometheus/client_golang/prometheus"
)

// UserInput is one account to create.
type UserInput struct {
	Email string `json:"email" yaml:"email"`
	Name  string `json:"name" yaml:"name"`
}

// Request creates Users with a shared role, class context, module
// entitlements and expiration.
type Request struct {
	Users             []UserInput `json:"users" yaml:"users"`
	Role              roster.Role `json:"role" yaml:"role"`
	EnrolledClassID   string      `json:"enrolled_class_id,omitempty" yaml:"enrolled_class_id"`
	TeachingClassIDs  []string    `json:"teaching_class_ids,omitempty" yaml:"teaching_class_ids"`
	AvailableModules  []string    `json:"available_modules,omitempty" yaml:"available_modules"`
	AccountExpiration *time.Time  `json:"account_expiration_date,omitempty" yaml:"account_expiration_date"`
}

// Validate checks the request-level fields. Problems with individual users
// are reported per item instead.
func (r Request) Validate() error {
	if len(r.Users) == 0 {
		return apperr.BadRequest("users must not be empty")
	}
	return roster.ValidateClassContext(r.Role, r.EnrolledClassID, r.TeachingClassIDs)
}

func (r Request) account(u UserInput) roster.NewAccount {
	return roster.NewAccount{
		Email:             u.Email,
		Name:              u.Name,
		Role:              r.Role,
		EnrolledClassID:   r.EnrolledClassID,
		TeachingClassIDs:  r.TeachingClassIDs,
		AvailableModules:  r.AvailableModules,
		AccountExpiration: r.AccountExpiration,
	}
}

// FailedItem is an input that did not produce an account.
type FailedItem struct {
	UserInput
	Reason string `json:"reason"`
	// Committed is true when a profile was stored before the failure.
	Committed bool               `json:"committed,omitempty"`
	Logs      []logging.LogEntry `json:"logs,omitempty"`
}

// Outcome partitions the request's users. Every input appears exactly once,
// in input order, in either Created or Failed.
type Outcome struct {
	Created []roster.Profile `json:"created"`
	Failed  []FailedItem     `json:"failed"`
	Message string           `json:"message"`
}

// Total is the number of input items.
func (o Outcome) Total() int {
	return len(o.Created) + len(o.Failed)
}

// Accepted is false only when every item failed.
func (o Outcome) Accepted() bool {
	return len(o.Created) > 0
}

// Status is the HTTP status for the outcome: 201 if anything was created,
// 500 if every item failed.
func (o Outcome) Status() int {
	if o.Accepted() {
		return http.StatusCreated
	}
	return http.StatusInternalServerError
}

// Summary formats the counts, e.g. "Created 1 of 2 accounts, 1 failed".
func Summary(created, total int) string {
	return fmt.Sprintf("Created %d of %d accounts, %d failed", created, total, total-created)
}

// Metrics counts batch items by outcome.
type Metrics struct {
	items metrics.CounterVec
}

// NewMetrics registers the batch collectors with reg.
func NewMetrics(reg metrics.Registry) (*Metrics, error) {
	items, err := reg.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_batch_items_total",
		Help: "Batch account creation items, by outcome (created, failed).",
	}, []string{"outcome"})
	if err != nil {
		return nil, fmt.Errorf("creating batch items counter: %w", err)
	}
	return &Metrics{items: items}, nil
}

func (m *Metrics) record(o Outcome) {
	if m == nil {
		return
	}
	m.items.With(prometheus.Labels{"outcome": "created"}).Add(float64(len(o.Created)))
	m.items.With(prometheus.Labels{"outcome": "failed"}).Add(float64(len(o.Failed)))
}

// Reporter runs batch account creation.
type Reporter struct {
	identity  roster.IdentityGateway
	store     roster.StoreGateway
	logger    *slog.Logger
	metrics   *Metrics
	collector *logging.LogCollector
	taskOpts  []task.OrchestratorOption
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithLogger sets the logger handed to each run.
func WithLogger(logger *slog.Logger) ReporterOption {
	return func(r *Reporter) {
		r.logger = logger
	}
}

// WithMetrics records item outcomes.
func WithMetrics(m *Metrics) ReporterOption {
	return func(r *Reporter) {
		r.metrics = m
	}
}

// WithLogCollector attaches each failed item's captured log records to the
// outcome. The records are dropped from c once the outcome is built, so c can
// be shared across runs.
func WithLogCollector(c *logging.LogCollector) ReporterOption {
	return func(r *Reporter) {
		r.collector = c
	}
}

// WithTaskOptions passes options such as pacing and retry to every run.
func WithTaskOptions(opts ...task.OrchestratorOption) ReporterOption {
	return func(r *Reporter) {
		r.taskOpts = append(r.taskOpts, opts...)
	}
}

// NewReporter creates a Reporter.
func NewReporter(identity roster.IdentityGateway, store roster.StoreGateway, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		identity: identity,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateAccounts creates one account per user in a single run. An error is
// returned only for request-level problems, before any gateway call; item
// failures are reported in the Outcome.
func (r *Reporter) CreateAccounts(ctx context.Context, req Request) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}

	opts := append([]task.OrchestratorOption{task.WithLogger(r.logger)}, r.taskOpts...)
	if r.collector != nil {
		opts = append(opts, task.WithLogCollector(r.collector))
	}
	o := task.NewOrchestrator(r.identity, r.store, opts...)
	logger := r.logger.With("component", "batch", "run_id", o.RunID())

	// items[i] is the enqueued step index of user i, or -1 with a reason.
	type item struct {
		step   int
		reason string
	}
	items := make([]item, len(req.Users))
	enqueued := 0
	for i, u := range req.Users {
		if err := o.CreateUser(req.account(u)); err != nil {
			items[i] = item{step: -1, reason: apperr.Reason(err)}
			logger.Info("batch item rejected", "email", u.Email, "reason", items[i].reason)
			continue
		}
		items[i] = item{step: enqueued}
		enqueued++
	}

	logger.Info("creating accounts", "users", len(req.Users), "enqueued", enqueued)
	if err := o.Run(ctx); err != nil {
		return Outcome{}, fmt.Errorf("running batch: %w", err)
	}
	results := o.Results()

	outcome := Outcome{Created: []roster.Profile{}, Failed: []FailedItem{}}
	for i, u := range req.Users {
		it := items[i]
		if it.step < 0 {
			outcome.Failed = append(outcome.Failed, FailedItem{UserInput: u, Reason: it.reason})
			continue
		}
		res := results[it.step]
		if res.IsSuccess() && res.Profile != nil {
			outcome.Created = append(outcome.Created, *res.Profile)
			continue
		}
		outcome.Failed = append(outcome.Failed, FailedItem{
			UserInput: u,
			Reason:    res.Reason(),
			Committed: res.Committed,
			Logs:      o.StepLogs(res.Step),
		})
	}
	o.ReleaseLogs()
	outcome.Message = Summary(len(outcome.Created), len(req.Users))
	r.metrics.record(outcome)

	logger.Info("batch completed", "message", outcome.Message, "failed_emails", failedEmails(outcome.Failed))
	return outcome, nil
}

func failedEmails(items []FailedItem) string {
	emails := make([]string, len(items))
	for i, it := range items {
		emails[i] = it.Email
	}
	return strings.Join(emails, ",")
}
