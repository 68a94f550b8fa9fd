package server

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/roster/config"
	"github.com/nomis52/roster/logging"
	"github.com/nomis52/roster/roster"
	"github.com/nomis52/roster/roster/rostertest"
	"github.com/nomis52/roster/server/auth"
	"github.com/nomis52/roster/server/history"
)

func testConfig() config.Config {
	cfg := config.Config{
		Identity: config.IdentityConfig{BaseURL: "https://idp.example.com"},
		Auth:     config.AuthConfig{Disabled: true},
		Orchestrator: config.OrchestratorConfig{
			Pacing: config.PacingConfig{Disabled: true},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config, opts ...Option) *Server {
	t.Helper()
	identity, store, _ := rostertest.New()
	store.AddGroup(roster.Group{ID: "class-7a", Name: "7A"})

	opts = append([]Option{WithLogger(logging.Discard()), WithGateways(identity, store)}, opts...)
	s, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServer_Routes(t *testing.T) {
	s := newTestServer(t, testConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := `{"users":[{"email":"bob@school.org","name":"Bob"}],"role":"student","enrolled_class_id":"class-7a"}`
	resp, err = http.Post(ts.URL+"/api/users/batch", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/users/bob@school.org")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), `roster_steps_total{kind="create_user",outcome="success"} 1`)
	assert.Contains(t, w.Body.String(), `roster_batch_items_total{outcome="created"} 1`)

	resp, err = http.Post(ts.URL+"/api/expiry/sweep", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Nil(t, s.NextSweep())

	resp, err = http.Get(ts.URL + "/api/history")
	require.NoError(t, err)
	var runs []history.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	resp.Body.Close()
	require.Len(t, runs, 2)
	assert.Equal(t, history.KindSweep, runs[0].Kind)
	assert.Equal(t, history.KindBatch, runs[1].Kind)
	assert.Equal(t, 1, runs[1].Succeeded)

	resp, err = http.Get(ts.URL + "/api/history/" + runs[1].ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_DiskHistory(t *testing.T) {
	cfg := testConfig()
	cfg.History.Dir = t.TempDir()
	s := newTestServer(t, cfg)

	_, err := s.history.Sweeps(s.sweeper, history.TriggerAPI).Sweep(context.Background())
	require.NoError(t, err)

	reopened := newTestServer(t, cfg)
	require.Len(t, reopened.runs.History(), 1)
}

func TestServer_ExpirySchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Expiry.Schedule = "0 3 * * *"
	s := newTestServer(t, cfg)

	next := s.NextSweep()
	require.NotNil(t, next)
	assert.Equal(t, 3, next.Hour())

	last, err := s.LastSweep()
	assert.True(t, last.IsZero())
	assert.NoError(t, err)

	cfg.Expiry.Schedule = "whenever"
	identity, store, _ := rostertest.New()
	_, err = New(context.Background(), cfg, WithLogger(logging.Discard()), WithGateways(identity, store))
	assert.Error(t, err)
}

func TestServer_Auth(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	verifier := oidc.NewVerifier("https://accounts.example.com",
		&oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}},
		&oidc.Config{ClientID: "roster"})
	m := auth.NewWithVerifier(verifier, auth.Config{}, logging.Discard())

	s := newTestServer(t, testConfig(), WithAuth(m))
	h := s.Handler()

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/status", http.StatusUnauthorized},
		{http.MethodGet, "/config", http.StatusUnauthorized},
		{http.MethodPost, "/api/users/batch", http.StatusUnauthorized},
		{http.MethodDelete, "/api/users/alice@school.org", http.StatusUnauthorized},
		{http.MethodPost, "/api/audit/revert", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
