// Package store is the SQLite-backed StoreGateway holding profiles, classes,
// membership and module entitlements.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/nomis52/roster/apperr"
	"github.com/nomis52/roster/roster"
)

const (
	memberTeacher = "teacher"
	memberStudent = "student"
)

// Store implements roster.StoreGateway on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the clock used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens the database at path, creating the schema if needed.
func Open(path string, opts ...Option) (*Store, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	dsnOpts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_busy_timeout=5000",
	}
	db, err := sql.Open("sqlite3", path+"?"+strings.Join(dsnOpts, "&"))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")

	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

func (s *Store) init() error {
	_, err := s.db.Exec(`
		create table if not exists users (
			id text primary key,
			email text not null unique,
			name text not null,
			role text not null,
			enrolled_class_id text not null default '',
			account_expiration text,
			created_at text not null
		);

		create table if not exists user_modules (
			user_id text not null,
			module text not null,
			primary key (user_id, module),
			foreign key (user_id) references users(id) on delete cascade
		);

		create table if not exists user_teaching (
			user_id text not null,
			class_id text not null,
			primary key (user_id, class_id),
			foreign key (user_id) references users(id) on delete cascade
		);

		create table if not exists groups (
			id text primary key,
			name text not null
		);

		create table if not exists group_members (
			seq integer primary key autoincrement,
			group_id text not null,
			user_id text not null,
			kind text not null,
			unique(group_id, user_id, kind),
			foreign key (group_id) references groups(id) on delete cascade
		);

		create index if not exists users_expiration on users(account_expiration);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateGroup inserts a class. It is used to seed classes; membership changes
// go through UpdateGroup.
func (s *Store) CreateGroup(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `insert into groups (id, name) values (?, ?)`, id, name)
	if isConstraint(err) {
		return apperr.Conflict("Class already exists", fmt.Sprintf("class %s already exists", id))
	}
	return err
}

func (s *Store) GetGroup(ctx context.Context, id string) (roster.Group, error) {
	return getGroup(ctx, s.db, id)
}

func (s *Store) UpdateGroup(ctx context.Context, id string, update roster.GroupUpdate) (roster.Group, error) {
	var g roster.Group
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getGroup(ctx, tx, id); err != nil {
			return err
		}

		adds := []struct {
			kind string
			ids  []string
		}{{memberTeacher, update.AddTeachers}, {memberStudent, update.AddStudents}}
		for _, a := range adds {
			for _, userID := range a.ids {
				if _, err := tx.ExecContext(ctx,
					`insert or ignore into group_members (group_id, user_id, kind) values (?, ?, ?)`,
					id, userID, a.kind); err != nil {
					return fmt.Errorf("adding %s %s: %w", a.kind, userID, err)
				}
			}
		}

		removes := []struct {
			kind string
			ids  []string
		}{{memberTeacher, update.RemoveTeachers}, {memberStudent, update.RemoveStudents}}
		for _, r := range removes {
			for _, userID := range r.ids {
				if _, err := tx.ExecContext(ctx,
					`delete from group_members where group_id = ? and user_id = ? and kind = ?`,
					id, userID, r.kind); err != nil {
					return fmt.Errorf("removing %s %s: %w", r.kind, userID, err)
				}
			}
		}

		var err error
		g, err = getGroup(ctx, tx, id)
		return err
	})
	return g, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (roster.Profile, error) {
	return getUser(ctx, s.db, "email", email)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (roster.Profile, error) {
	return getUser(ctx, s.db, "id", id)
}

func (s *Store) CreateUser(ctx context.Context, p roster.Profile) (roster.Profile, error) {
	if p.ID == "" {
		return roster.Profile{}, apperr.BadRequest("profile id is required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			insert into users (id, email, name, role, enrolled_class_id, account_expiration, created_at)
			values (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Email, p.Name, string(p.Role), p.EnrolledClassID,
			formatTime(p.AccountExpiration), p.CreatedAt.Format(time.RFC3339))
		if isConstraint(err) {
			return apperr.Conflict("User already exists", fmt.Sprintf("a profile for %s already exists", p.Email))
		}
		if err != nil {
			return err
		}
		if err := replaceList(ctx, tx, "user_modules", "module", p.ID, p.AvailableModules); err != nil {
			return err
		}
		return replaceList(ctx, tx, "user_teaching", "class_id", p.ID, p.TeachingClassIDs)
	})
	if err != nil {
		return roster.Profile{}, err
	}

	s.logger.Debug("profile created", "email", p.Email, "id", p.ID)
	return getUser(ctx, s.db, "id", p.ID)
}

func (s *Store) UpdateUserByEmail(ctx context.Context, email string, update roster.ProfileUpdate) (roster.Profile, error) {
	var updated roster.Profile
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getUser(ctx, tx, "email", email)
		if err != nil {
			return err
		}
		p := roster.ApplyUpdate(current, update)

		if _, err := tx.ExecContext(ctx, `
			update users set name = ?, role = ?, enrolled_class_id = ?, account_expiration = ?
			where id = ?`,
			p.Name, string(p.Role), p.EnrolledClassID, formatTime(p.AccountExpiration), p.ID); err != nil {
			return err
		}
		if update.AvailableModules != nil {
			if err := replaceList(ctx, tx, "user_modules", "module", p.ID, p.AvailableModules); err != nil {
				return err
			}
		}
		if update.TeachingClassIDs != nil {
			if err := replaceList(ctx, tx, "user_teaching", "class_id", p.ID, p.TeachingClassIDs); err != nil {
				return err
			}
		}

		updated, err = getUser(ctx, tx, "id", p.ID)
		return err
	})
	return updated, err
}

func (s *Store) DeleteUserByEmail(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where email = ?`, email)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return roster.ErrNotFound
	}
	return nil
}

func (s *Store) ListExpiredUsers(ctx context.Context, before time.Time) ([]roster.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id from users
		where account_expiration is not null and account_expiration < ?
		order by account_expiration, email`,
		before.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	ids, err := scanStrings(rows)
	if err != nil {
		return nil, err
	}

	profiles := make([]roster.Profile, 0, len(ids))
	for _, id := range ids {
		p, err := getUser(ctx, s.db, "id", id)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getGroup(ctx context.Context, q querier, id string) (roster.Group, error) {
	g := roster.Group{ID: id, Teachers: []string{}, Students: []string{}}
	err := q.QueryRowContext(ctx, `select name from groups where id = ?`, id).Scan(&g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return roster.Group{}, roster.ErrNotFound
	}
	if err != nil {
		return roster.Group{}, err
	}

	rows, err := q.QueryContext(ctx,
		`select user_id, kind from group_members where group_id = ? order by seq`, id)
	if err != nil {
		return roster.Group{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var userID, kind string
		if err := rows.Scan(&userID, &kind); err != nil {
			return roster.Group{}, err
		}
		switch kind {
		case memberTeacher:
			g.Teachers = append(g.Teachers, userID)
		case memberStudent:
			g.Students = append(g.Students, userID)
		}
	}
	return g, rows.Err()
}

// getUser loads a profile by column, which is "id" or "email".
func getUser(ctx context.Context, q querier, column, value string) (roster.Profile, error) {
	var (
		p          roster.Profile
		role       string
		expiration sql.NullString
		createdAt  string
	)
	err := q.QueryRowContext(ctx, `
		select id, email, name, role, enrolled_class_id, account_expiration, created_at
		from users where `+column+` = ?`, value).
		Scan(&p.ID, &p.Email, &p.Name, &role, &p.EnrolledClassID, &expiration, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return roster.Profile{}, roster.ErrNotFound
	}
	if err != nil {
		return roster.Profile{}, err
	}
	p.Role = roster.Role(role)

	if p.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return roster.Profile{}, fmt.Errorf("bad created_at for %s: %w", p.Email, err)
	}
	if expiration.Valid {
		t, err := time.Parse(time.RFC3339, expiration.String)
		if err != nil {
			return roster.Profile{}, fmt.Errorf("bad account_expiration for %s: %w", p.Email, err)
		}
		p.AccountExpiration = &t
	}

	if p.AvailableModules, err = listColumn(ctx, q, "user_modules", "module", p.ID); err != nil {
		return roster.Profile{}, err
	}
	if p.TeachingClassIDs, err = listColumn(ctx, q, "user_teaching", "class_id", p.ID); err != nil {
		return roster.Profile{}, err
	}
	return p, nil
}

func listColumn(ctx context.Context, q querier, table, column, userID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`select `+column+` from `+table+` where user_id = ? order by rowid`, userID)
	if err != nil {
		return nil, err
	}
	values, err := scanStrings(rows)
	if len(values) == 0 {
		return nil, err
	}
	return values, err
}

func replaceList(ctx context.Context, tx *sql.Tx, table, column, userID string, values []string) error {
	if _, err := tx.ExecContext(ctx, `delete from `+table+` where user_id = ?`, userID); err != nil {
		return err
	}
	for _, v := range values {
		if _, err := tx.ExecContext(ctx,
			`insert or ignore into `+table+` (user_id, `+column+`) values (?, ?)`, userID, v); err != nil {
			return fmt.Errorf("writing %s: %w", table, err)
		}
	}
	return nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
