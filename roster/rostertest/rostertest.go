// Package rostertest provides in-memory gateways for tests.
package rostertest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nomis52/roster/roster"
)

// Call is one recorded gateway call.
type Call struct {
	Method string
	Arg    string
	At     time.Time
	Err    error
}

func (c Call) String() string {
	return c.Method + " " + c.Arg
}

// CallLog records calls across gateways so that ordering between them can be
// asserted.
type CallLog struct {
	mu    sync.Mutex
	calls []Call
}

func (l *CallLog) add(c Call) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

// Calls returns every call in order.
func (l *CallLog) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.calls)
}

// Strings returns every call as "Method arg".
func (l *CallLog) Strings() []string {
	var out []string
	for _, c := range l.Calls() {
		out = append(out, c.String())
	}
	return out
}

// Of returns the calls of one method.
func (l *CallLog) Of(method string) []Call {
	var out []Call
	for _, c := range l.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// failures maps "Method arg" or "Method" to an injected error.
type failures struct {
	mu sync.Mutex
	m  map[string]error
}

func (f *failures) set(method, arg string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.m == nil {
		f.m = make(map[string]error)
	}
	key := method
	if arg != "" {
		key += " " + arg
	}
	f.m[key] = err
}

func (f *failures) get(method, arg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.m[method+" "+arg]; ok {
		return err
	}
	return f.m[method]
}

// Identity is an in-memory roster.IdentityGateway.
type Identity struct {
	log      *CallLog
	failures failures

	mu       sync.Mutex
	accounts map[string]roster.Profile
	roles    map[string][]roster.Role
	nextID   int
}

// Store is an in-memory roster.StoreGateway. Group membership behaves as a set.
type Store struct {
	log      *CallLog
	failures failures

	mu     sync.Mutex
	users  map[string]roster.Profile
	groups map[string]roster.Group
}

// New returns an Identity and a Store sharing one CallLog.
func New() (*Identity, *Store, *CallLog) {
	log := &CallLog{}
	return &Identity{
			log:      log,
			accounts: make(map[string]roster.Profile),
			roles:    make(map[string][]roster.Role),
		}, &Store{
			log:    log,
			users:  make(map[string]roster.Profile),
			groups: make(map[string]roster.Group),
		}, log
}

// Fail makes method return err. With a non-empty arg only calls whose first
// argument equals arg fail.
func (g *Identity) Fail(method, arg string, err error) { g.failures.set(method, arg, err) }

// Fail makes method return err. With a non-empty arg only calls whose first
// argument equals arg fail.
func (s *Store) Fail(method, arg string, err error) { s.failures.set(method, arg, err) }

func (g *Identity) call(method, arg string) error {
	err := g.failures.get(method, arg)
	g.log.add(Call{Method: method, Arg: arg, At: time.Now(), Err: err})
	return err
}

func (s *Store) call(method, arg string) error {
	err := s.failures.get(method, arg)
	s.log.add(Call{Method: method, Arg: arg, At: time.Now(), Err: err})
	return err
}

// AddAccount seeds an identity account.
func (g *Identity) AddAccount(p roster.Profile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[p.Email] = p
	if p.Role != "" {
		g.roles[p.ID] = []roster.Role{p.Role}
	}
}

// Account returns the identity account for email.
func (g *Identity) Account(email string) (roster.Profile, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.accounts[email]
	return p, ok
}

// Roles returns the roles granted to userID.
func (g *Identity) Roles(userID string) []roster.Role {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.roles[userID])
}

func (g *Identity) FindByEmail(ctx context.Context, email string) (roster.Profile, error) {
	if err := g.call("FindByEmail", email); err != nil {
		return roster.Profile{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.accounts[email]
	if !ok {
		return roster.Profile{}, roster.ErrNotFound
	}
	return p, nil
}

func (g *Identity) Create(ctx context.Context, account roster.NewAccount) (roster.Profile, error) {
	if err := g.call("Create", account.Email); err != nil {
		return roster.Profile{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.accounts[account.Email]; ok {
		return roster.Profile{}, fmt.Errorf("account %s exists", account.Email)
	}
	g.nextID++
	p := roster.Profile{
		ID:                fmt.Sprintf("user-%d", g.nextID),
		Email:             account.Email,
		Name:              account.Name,
		Role:              account.Role,
		AccountExpiration: account.AccountExpiration,
	}
	g.accounts[account.Email] = p
	g.roles[p.ID] = []roster.Role{account.Role}
	return p, nil
}

func (g *Identity) Delete(ctx context.Context, userID string) error {
	if err := g.call("Delete", userID); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for email, p := range g.accounts {
		if p.ID == userID {
			delete(g.accounts, email)
			delete(g.roles, userID)
			return nil
		}
	}
	return roster.ErrNotFound
}

func (g *Identity) AssignRole(ctx context.Context, userID string, role roster.Role) error {
	if err := g.call("AssignRole", userID); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !slices.Contains(g.roles[userID], role) {
		g.roles[userID] = append(g.roles[userID], role)
	}
	return nil
}

func (g *Identity) SendInvitation(ctx context.Context, name, email string) error {
	return g.call("SendInvitation", email)
}

func (g *Identity) ListRoles(ctx context.Context, userID string) ([]roster.Role, error) {
	if err := g.call("ListRoles", userID); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.roles[userID]), nil
}

// AddGroup seeds a class.
func (s *Store) AddGroup(g roster.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
}

// AddUser seeds a profile.
func (s *Store) AddUser(p roster.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.Email] = p
}

// User returns the stored profile for email.
func (s *Store) User(email string) (roster.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[email]
	return p, ok
}

// Group returns the stored class.
func (s *Store) Group(id string) (roster.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	return g, ok
}

func (s *Store) GetGroup(ctx context.Context, id string) (roster.Group, error) {
	if err := s.call("GetGroup", id); err != nil {
		return roster.Group{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return roster.Group{}, roster.ErrNotFound
	}
	return g, nil
}

func (s *Store) UpdateGroup(ctx context.Context, id string, update roster.GroupUpdate) (roster.Group, error) {
	if err := s.call("UpdateGroup", id); err != nil {
		return roster.Group{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return roster.Group{}, roster.ErrNotFound
	}
	g.Teachers = applySet(g.Teachers, update.AddTeachers, update.RemoveTeachers)
	g.Students = applySet(g.Students, update.AddStudents, update.RemoveStudents)
	s.groups[id] = g
	return g, nil
}

func applySet(members, add, remove []string) []string {
	out := slices.Clone(members)
	for _, id := range add {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return slices.DeleteFunc(out, func(id string) bool {
		return slices.Contains(remove, id)
	})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (roster.Profile, error) {
	if err := s.call("GetUserByEmail", email); err != nil {
		return roster.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[email]
	if !ok {
		return roster.Profile{}, roster.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (roster.Profile, error) {
	if err := s.call("GetUserByID", id); err != nil {
		return roster.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.users {
		if p.ID == id {
			return p, nil
		}
	}
	return roster.Profile{}, roster.ErrNotFound
}

func (s *Store) CreateUser(ctx context.Context, p roster.Profile) (roster.Profile, error) {
	if err := s.call("CreateUser", p.Email); err != nil {
		return roster.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.Email]; ok {
		return roster.Profile{}, fmt.Errorf("profile %s exists", p.Email)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.users[p.Email] = p
	return p, nil
}

func (s *Store) UpdateUserByEmail(ctx context.Context, email string, update roster.ProfileUpdate) (roster.Profile, error) {
	if err := s.call("UpdateUserByEmail", email); err != nil {
		return roster.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[email]
	if !ok {
		return roster.Profile{}, roster.ErrNotFound
	}
	p = roster.ApplyUpdate(p, update)
	s.users[email] = p
	return p, nil
}

func (s *Store) DeleteUserByEmail(ctx context.Context, email string) error {
	if err := s.call("DeleteUserByEmail", email); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[email]; !ok {
		return roster.ErrNotFound
	}
	delete(s.users, email)
	return nil
}

func (s *Store) ListExpiredUsers(ctx context.Context, before time.Time) ([]roster.Profile, error) {
	if err := s.call("ListExpiredUsers", ""); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []roster.Profile
	for _, p := range s.users {
		if p.AccountExpiration != nil && p.AccountExpiration.Before(before) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b roster.Profile) int {
		return a.AccountExpiration.Compare(*b.AccountExpiration)
	})
	return out, nil
}
