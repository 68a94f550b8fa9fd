package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/roster/audit"
	"github.com/nomis52/roster/batch"
	"github.com/nomis52/roster/config"
	"github.com/nomis52/roster/expiry"
	"github.com/nomis52/roster/logging"
	"github.com/nomis52/roster/roster"
	"github.com/nomis52/roster/roster/rostertest"
	"github.com/nomis52/roster/server/auth"
	"github.com/nomis52/roster/task"
)

// fakeRuns builds orchestrators over in-memory gateways with pacing off.
type fakeRuns struct {
	identity *rostertest.Identity
	store    *rostertest.Store
}

func (f *fakeRuns) NewRun() *task.Orchestrator {
	return task.NewOrchestrator(f.identity, f.store,
		task.WithLogger(logging.Discard()),
		task.WithPacing(task.Pacing{}))
}

func newFakeRuns() *fakeRuns {
	identity, store, _ := rostertest.New()
	store.AddGroup(roster.Group{ID: "class-7a", Name: "7A", Teachers: []string{}, Students: []string{}})
	alice := roster.Profile{ID: "user-a", Email: "alice@school.org", Name: "Alice", Role: roster.RoleStudent, EnrolledClassID: "class-7a"}
	store.AddUser(alice)
	identity.AddAccount(alice)
	return &fakeRuns{identity: identity, store: store}
}

// routes mirrors the server's mux for the handlers under test.
func routes(runs *fakeRuns) *http.ServeMux {
	logger := logging.Discard()
	users := NewUsersHandler(logger, runs)
	classes := NewClassesHandler(logger, runs)

	mux := http.NewServeMux()
	mux.Handle("POST /api/users/batch", NewBatchHandler(logger, batch.NewReporter(runs.identity, runs.store,
		batch.WithLogger(logger),
		batch.WithTaskOptions(task.WithPacing(task.Pacing{})))))
	mux.HandleFunc("GET /api/users/{email}", users.Get)
	mux.HandleFunc("PATCH /api/users/{email}", users.Update)
	mux.HandleFunc("DELETE /api/users/{email}", users.Delete)
	mux.HandleFunc("POST /api/users/{email}/invitation", users.ResendInvitation)
	mux.HandleFunc("GET /api/classes/{id}", classes.Get)
	mux.HandleFunc("PATCH /api/classes/{id}/members", classes.UpdateMembers)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestBatchHandler(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantCreated int
		wantFailed  int
		wantMessage string
		wantError   string
	}{
		{
			name:        "alice exists, bob is created",
			body:        `{"users":[{"email":"alice@school.org","name":"Alice"},{"email":"bob@school.org","name":"Bob"}],"role":"student","enrolled_class_id":"class-7a"}`,
			wantStatus:  http.StatusCreated,
			wantCreated: 1,
			wantFailed:  1,
			wantMessage: "Created 1 of 2 accounts, 1 failed",
		},
		{
			name:        "every item fails",
			body:        `{"users":[{"email":"not-an-email","name":"X"}],"role":"student","enrolled_class_id":"class-7a"}`,
			wantStatus:  http.StatusInternalServerError,
			wantFailed:  1,
			wantMessage: "Created 0 of 1 accounts, 1 failed",
		},
		{
			name:       "empty users",
			body:       `{"users":[],"role":"student","enrolled_class_id":"class-7a"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "users must not be empty",
		},
		{
			name:       "missing class context",
			body:       `{"users":[{"email":"bob@school.org","name":"Bob"}],"role":"teacher"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "teachers require teaching_class_ids",
		},
		{
			name:       "unknown field",
			body:       `{"users":[],"colour":"red"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			wantStatus: http.StatusBadRequest,
			wantError:  "request body is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, routes(newFakeRuns()), http.MethodPost, "/api/users/batch", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			if tt.wantStatus == http.StatusBadRequest {
				if tt.wantError != "" {
					assert.Equal(t, tt.wantError, decodeError(t, w).Error)
				}
				return
			}
			var outcome batch.Outcome
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
			assert.Len(t, outcome.Created, tt.wantCreated)
			assert.Len(t, outcome.Failed, tt.wantFailed)
			assert.Equal(t, tt.wantMessage, outcome.Message)
		})
	}
}

func TestUsersHandler(t *testing.T) {
	t.Run("get", func(t *testing.T) {
		w := do(t, routes(newFakeRuns()), http.MethodGet, "/api/users/Alice@School.org", "")
		require.Equal(t, http.StatusOK, w.Code)
		var p roster.Profile
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
		assert.Equal(t, "user-a", p.ID)
	})

	t.Run("get missing", func(t *testing.T) {
		w := do(t, routes(newFakeRuns()), http.MethodGet, "/api/users/nobody@school.org", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "no account for nobody@school.org", decodeError(t, w).Error)
	})

	t.Run("get malformed email", func(t *testing.T) {
		w := do(t, routes(newFakeRuns()), http.MethodGet, "/api/users/nobody", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("update", func(t *testing.T) {
		runs := newFakeRuns()
		w := do(t, routes(runs), http.MethodPatch, "/api/users/alice@school.org", `{"name":"Alice Smith"}`)
		require.Equal(t, http.StatusOK, w.Code)
		p, _ := runs.store.User("alice@school.org")
		assert.Equal(t, "Alice Smith", p.Name)
	})

	t.Run("update with nothing to change", func(t *testing.T) {
		w := do(t, routes(newFakeRuns()), http.MethodPatch, "/api/users/alice@school.org", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("committed failure", func(t *testing.T) {
		runs := newFakeRuns()
		runs.identity.Fail("ListRoles", "", errors.New("identity provider down"))
		w := do(t, routes(runs), http.MethodPatch, "/api/users/alice@school.org", `{"role":"teacher"}`)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "Unknown error", resp.Error)
		assert.True(t, resp.Committed)
	})

	t.Run("delete", func(t *testing.T) {
		runs := newFakeRuns()
		w := do(t, routes(runs), http.MethodDelete, "/api/users/alice@school.org", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		_, ok := runs.store.User("alice@school.org")
		assert.False(t, ok)
	})

	t.Run("resend invitation", func(t *testing.T) {
		w := do(t, routes(newFakeRuns()), http.MethodPost, "/api/users/alice@school.org/invitation", "")
		assert.Equal(t, http.StatusAccepted, w.Code)
	})
}

func TestClassesHandler(t *testing.T) {
	runs := newFakeRuns()
	h := routes(runs)

	w := do(t, h, http.MethodPatch, "/api/classes/class-7a/members", `{"add_teachers":["user-t"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	var g roster.Group
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	assert.Equal(t, []string{"user-t"}, g.Teachers)

	w = do(t, h, http.MethodGet, "/api/classes/class-7a", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/api/classes/class-9z", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodPatch, "/api/classes/class-7a/members", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type recordingAudit struct {
	recorded []audit.Reversal
	err      error
}

func (r *recordingAudit) Record(ctx context.Context, rev audit.Reversal) error {
	r.recorded = append(r.recorded, rev)
	return r.err
}

func TestRevertHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		recordErr  error
		wantStatus int
	}{
		{name: "recorded", body: `{"message":"bob's profile exists without an identity account"}`, wantStatus: http.StatusCreated},
		{name: "empty message", body: `{"message":"  "}`, wantStatus: http.StatusBadRequest},
		{name: "recorder down", body: `{"message":"x"}`, recordErr: errors.New("redis down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingAudit{err: tt.recordErr}
			h := NewRevertHandler(logging.Discard(), rec)
			h.now = func() time.Time { return time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC) }

			req := httptest.NewRequest(http.MethodPost, "/api/audit/revert", strings.NewReader(tt.body))
			req = req.WithContext(auth.ContextWithIdentity(req.Context(), auth.Identity{Subject: "sub-1", Email: "head@school.org"}))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusCreated {
				return
			}
			require.Len(t, rec.recorded, 1)
			assert.Equal(t, "head@school.org", rec.recorded[0].Actor)

			var rev audit.Reversal
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rev))
			assert.NotEmpty(t, rev.ID)
		})
	}
}

type fakeSweeper struct {
	result expiry.Result
	err    error
}

func (f *fakeSweeper) Sweep(ctx context.Context) (expiry.Result, error) {
	return f.result, f.err
}

func TestSweepHandler(t *testing.T) {
	h := NewSweepHandler(logging.Discard(), &fakeSweeper{result: expiry.Result{Deleted: []string{"old@school.org"}, Failed: []expiry.Failed{}}})
	w := do(t, h, http.MethodPost, "/api/expiry/sweep", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "old@school.org")

	h = NewSweepHandler(logging.Discard(), &fakeSweeper{err: errors.New("store down")})
	w = do(t, h, http.MethodPost, "/api/expiry/sweep", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Unknown error", decodeError(t, w).Error)
}

type fakeSchedule struct {
	next    *time.Time
	last    time.Time
	lastErr error
}

func (f fakeSchedule) NextSweep() *time.Time         { return f.next }
func (f fakeSchedule) LastSweep() (time.Time, error) { return f.last, f.lastErr }

func TestAPIStatusHandler(t *testing.T) {
	next := time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)
	last := next.Add(-24 * time.Hour)

	tests := []struct {
		name     string
		schedule fakeSchedule
		want     SweepStatus
	}{
		{
			name: "not scheduled",
			want: SweepStatus{},
		},
		{
			name:     "scheduled, never run",
			schedule: fakeSchedule{next: &next},
			want:     SweepStatus{Scheduled: true, NextRun: &next},
		},
		{
			name:     "last run failed",
			schedule: fakeSchedule{next: &next, last: last, lastErr: errors.New("1 of 2 expired accounts could not be deleted")},
			want:     SweepStatus{Scheduled: true, NextRun: &next, LastRun: &last, LastError: "1 of 2 expired accounts could not be deleted"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, NewAPIStatusHandler(logging.Discard(), tt.schedule), http.MethodGet, "/api/status", "")
			require.Equal(t, http.StatusOK, w.Code)

			var resp APIStatusResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "unknown", resp.Build.GitCommit)
			assert.Equal(t, tt.want.Scheduled, resp.Expiry.Scheduled)
			assert.Equal(t, tt.want.LastError, resp.Expiry.LastError)
			if tt.want.NextRun != nil {
				require.NotNil(t, resp.Expiry.NextRun)
				assert.True(t, tt.want.NextRun.Equal(*resp.Expiry.NextRun))
			}
			assert.Equal(t, tt.want.LastRun == nil, resp.Expiry.LastRun == nil)
		})
	}
}

type staticConfig struct {
	cfg *config.Config
}

func (s staticConfig) Config() *config.Config { return s.cfg }

func TestConfigHandler(t *testing.T) {
	cfg := &config.Config{Identity: config.IdentityConfig{BaseURL: "https://idp.example.com", ClientSecret: "s3cret"}}
	w := do(t, NewConfigHandler(staticConfig{cfg}), http.MethodGet, "/config", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "https://idp.example.com")
	assert.NotContains(t, w.Body.String(), "s3cret")
}
