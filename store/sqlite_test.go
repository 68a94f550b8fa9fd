package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nomis52/roster/apperr"
	"github.com/nomis52/roster/logging"
	"github.com/nomis52/roster/roster"
	"github.com/nomis52/roster/roster/rostertest"
	"github.com/nomis52/roster/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ roster.StoreGateway = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "roster.db"), WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T {
	return &v
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	expires := time.Date(2027, 7, 1, 0, 0, 0, 0, time.UTC)
	created, err := s.CreateUser(ctx, roster.Profile{
		ID:                "user-1",
		Email:             "alice@school.org",
		Name:              "Alice",
		Role:              roster.RoleTeacher,
		TeachingClassIDs:  []string{"class-7a", "class-7b"},
		AvailableModules:  []string{"algebra"},
		AccountExpiration: &expires,
	})
	require.NoError(t, err)
	assert.Equal(t, "user-1", created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, []string{"class-7a", "class-7b"}, created.TeachingClassIDs)
	require.NotNil(t, created.AccountExpiration)
	assert.True(t, expires.Equal(*created.AccountExpiration))

	byID, err := s.GetUserByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, created, byID)

	_, err = s.CreateUser(ctx, roster.Profile{ID: "user-2", Email: "alice@school.org", Name: "Alice", Role: roster.RoleStudent})
	require.Error(t, err)
	assert.Equal(t, 409, apperr.StatusCode(err))

	_, err = s.CreateUser(ctx, roster.Profile{Email: "bob@school.org"})
	assert.Error(t, err)

	updated, err := s.UpdateUserByEmail(ctx, "alice@school.org", roster.ProfileUpdate{
		Name:             ptr("Alice Smith"),
		AvailableModules: []string{"algebra", "geometry"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice Smith", updated.Name)
	assert.Equal(t, []string{"algebra", "geometry"}, updated.AvailableModules)
	assert.Equal(t, []string{"class-7a", "class-7b"}, updated.TeachingClassIDs, "unset fields are unchanged")

	_, err = s.UpdateUserByEmail(ctx, "nobody@school.org", roster.ProfileUpdate{Name: ptr("x")})
	assert.ErrorIs(t, err, roster.ErrNotFound)

	require.NoError(t, s.DeleteUserByEmail(ctx, "alice@school.org"))
	_, err = s.GetUserByEmail(ctx, "alice@school.org")
	assert.ErrorIs(t, err, roster.ErrNotFound)
	assert.ErrorIs(t, s.DeleteUserByEmail(ctx, "alice@school.org"), roster.ErrNotFound)
}

func TestStore_UpdateGroup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateGroup(ctx, "class-7a", "Class 7A"))
	err := s.CreateGroup(ctx, "class-7a", "again")
	assert.Equal(t, 409, apperr.StatusCode(err))

	tests := []struct {
		name         string
		update       roster.GroupUpdate
		wantTeachers []string
		wantStudents []string
	}{
		{
			name:         "add",
			update:       roster.GroupUpdate{AddTeachers: []string{"t1"}, AddStudents: []string{"s1", "s2"}},
			wantTeachers: []string{"t1"},
			wantStudents: []string{"s1", "s2"},
		},
		{
			name:         "adding twice is a no-op",
			update:       roster.GroupUpdate{AddStudents: []string{"s1"}},
			wantTeachers: []string{"t1"},
			wantStudents: []string{"s1", "s2"},
		},
		{
			name:         "remove",
			update:       roster.GroupUpdate{RemoveStudents: []string{"s1", "missing"}},
			wantTeachers: []string{"t1"},
			wantStudents: []string{"s2"},
		},
		{
			name:         "removals after additions",
			update:       roster.GroupUpdate{AddTeachers: []string{"t2"}, RemoveTeachers: []string{"t2", "t1"}},
			wantTeachers: []string{},
			wantStudents: []string{"s2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := s.UpdateGroup(ctx, "class-7a", tt.update)
			require.NoError(t, err)
			assert.Equal(t, "Class 7A", g.Name)
			assert.Equal(t, tt.wantTeachers, g.Teachers)
			assert.Equal(t, tt.wantStudents, g.Students)
		})
	}

	_, err = s.UpdateGroup(ctx, "class-9z", roster.GroupUpdate{AddStudents: []string{"s1"}})
	assert.ErrorIs(t, err, roster.ErrNotFound)
	_, err = s.GetGroup(ctx, "class-9z")
	assert.ErrorIs(t, err, roster.ErrNotFound)
}

func TestStore_ListExpiredUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	users := []struct {
		email   string
		expires *time.Time
	}{
		{"late@school.org", ptr(now.Add(-time.Hour))},
		{"early@school.org", ptr(now.Add(-48 * time.Hour))},
		{"future@school.org", ptr(now.Add(time.Hour))},
		{"never@school.org", nil},
	}
	for i, u := range users {
		_, err := s.CreateUser(ctx, roster.Profile{
			ID:                "user-" + string(rune('a'+i)),
			Email:             u.email,
			Name:              u.email,
			Role:              roster.RoleStudent,
			AccountExpiration: u.expires,
		})
		require.NoError(t, err)
	}

	expired, err := s.ListExpiredUsers(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "early@school.org", expired[0].Email)
	assert.Equal(t, "late@school.org", expired[1].Email)
}

func TestStore_ClassMoveThenDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	identity, _, _ := rostertest.New()
	require.NoError(t, s.CreateGroup(ctx, "a", "A"))
	require.NoError(t, s.CreateGroup(ctx, "b", "B"))

	run := func(enqueue func(*task.Orchestrator) error) {
		t.Helper()
		o := task.NewOrchestrator(identity, s, task.WithLogger(logging.Discard()), task.WithPacing(task.Pacing{}))
		require.NoError(t, enqueue(o))
		require.NoError(t, o.Run(ctx))
		require.NoError(t, o.Err())
	}

	run(func(o *task.Orchestrator) error {
		return o.CreateUser(roster.NewAccount{Email: "tess@school.org", Name: "Tess", Role: roster.RoleTeacher, TeachingClassIDs: []string{"a"}})
	})
	p, err := s.GetUserByEmail(ctx, "tess@school.org")
	require.NoError(t, err)

	run(func(o *task.Orchestrator) error {
		return o.UpdateUser("tess@school.org", roster.ProfileUpdate{TeachingClassIDs: []string{"b"}})
	})
	a, err := s.GetGroup(ctx, "a")
	require.NoError(t, err)
	b, err := s.GetGroup(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, a.Teachers)
	assert.Equal(t, []string{p.ID}, b.Teachers)

	run(func(o *task.Orchestrator) error { return o.DeleteUser("tess@school.org") })
	a, err = s.GetGroup(ctx, "a")
	require.NoError(t, err)
	b, err = s.GetGroup(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, a.Teachers)
	assert.Empty(t, b.Teachers)
}
