package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/roster/logging"
	"github.com/nomis52/roster/roster"
	"github.com/nomis52/roster/roster/rostertest"
	"github.com/nomis52/roster/task"
)

var now = time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC)

func expiring(id, email string, at time.Time) roster.Profile {
	return roster.Profile{
		ID:                id,
		Email:             email,
		Name:              email,
		Role:              roster.RoleStudent,
		AccountExpiration: &at,
	}
}

func newTestSweeper() (*Sweeper, *rostertest.Identity, *rostertest.Store, *rostertest.CallLog) {
	identity, store, calls := rostertest.New()
	s := NewSweeper(identity, store,
		WithLogger(logging.Discard()),
		WithClock(func() time.Time { return now }),
		WithTaskOptions(task.WithPacing(task.Pacing{})),
	)
	return s, identity, store, calls
}

func TestSweep_NothingExpired(t *testing.T) {
	s, _, store, calls := newTestSweeper()
	store.AddUser(expiring("user-1", "future@school.org", now.Add(time.Hour)))

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Deleted)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{"ListExpiredUsers "}, calls.Strings())
	assert.NoError(t, s.Run(context.Background()))
}

func TestSweep_DeletesExpired(t *testing.T) {
	s, identity, store, _ := newTestSweeper()
	for _, p := range []roster.Profile{
		expiring("user-1", "old@school.org", now.Add(-48*time.Hour)),
		expiring("user-2", "stale@school.org", now.Add(-time.Hour)),
		expiring("user-3", "future@school.org", now.Add(time.Hour)),
	} {
		store.AddUser(p)
		identity.AddAccount(p)
	}

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"old@school.org", "stale@school.org"}, res.Deleted)
	assert.Empty(t, res.Failed)

	_, ok := store.User("old@school.org")
	assert.False(t, ok)
	_, ok = store.User("future@school.org")
	assert.True(t, ok)
}

func TestSweep_PartialFailure(t *testing.T) {
	s, _, store, _ := newTestSweeper()
	store.AddUser(expiring("user-1", "old@school.org", now.Add(-48*time.Hour)))
	store.AddUser(expiring("user-2", "stale@school.org", now.Add(-time.Hour)))
	store.Fail("DeleteUserByEmail", "old@school.org", errors.New("database is locked"))

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"stale@school.org"}, res.Deleted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "old@school.org", res.Failed[0].Email)
	assert.Equal(t, "Unknown error", res.Failed[0].Reason)
}

func TestSweep_UnschedulableAccount(t *testing.T) {
	s, identity, store, _ := newTestSweeper()
	bad := expiring("user-1", "not an email", now.Add(-time.Hour))
	good := expiring("user-2", "stale@school.org", now.Add(-time.Hour))
	store.AddUser(bad)
	store.AddUser(good)
	identity.AddAccount(good)

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"stale@school.org"}, res.Deleted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "not an email", res.Failed[0].Email)
	assert.Equal(t, `invalid email address "not an email"`, res.Failed[0].Reason)
	assert.NotContains(t, res.Failed[0].Reason, "Bad request")
}

func TestRun_Errors(t *testing.T) {
	s, _, store, _ := newTestSweeper()
	store.Fail("ListExpiredUsers", "", errors.New("connection refused"))

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing expired accounts")

	s, _, store, _ = newTestSweeper()
	store.AddUser(expiring("user-1", "old@school.org", now.Add(-time.Hour)))
	store.Fail("DeleteUserByEmail", "", errors.New("database is locked"))
	assert.EqualError(t, s.Run(context.Background()), "1 of 1 expired accounts could not be deleted")
}
