package application

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/KipK/ha-entity-explorer/internal/domain"
)

type memoryBans struct {
	mu  sync.Mutex
	set []string
}

func (m *memoryBans) List(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.set), nil
}

func (m *memoryBans) Update(_ context.Context, fn func([]string) ([]string, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := fn(slices.Clone(m.set))
	if err != nil {
		return err
	}
	m.set = next
	return nil
}

type memoryAuthRepo struct {
	mu       sync.Mutex
	nextID   uint
	users    map[uint]domain.User
	sessions map[string]domain.AuthSession
	audit    []domain.AuditLog
}

func newMemoryAuthRepo() *memoryAuthRepo {
	return &memoryAuthRepo{users: map[uint]domain.User{}, sessions: map[string]domain.AuthSession{}}
}

var errNotFound = errors.New("not found")

func (r *memoryAuthRepo) CreateUser(_ context.Context, u domain.User) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == u.Username {
			return domain.User{}, errors.New("duplicate username")
		}
	}
	r.nextID++
	u.ID = r.nextID
	u.CreatedAt = time.Now()
	r.users[u.ID] = u
	return u, nil
}

func (r *memoryAuthRepo) CountUsers(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.users)), nil
}

func (r *memoryAuthRepo) GetUserByUsername(_ context.Context, username string) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, errNotFound
}

func (r *memoryAuthRepo) GetUserByID(_ context.Context, id uint) (domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return domain.User{}, errNotFound
	}
	return u, nil
}

func (r *memoryAuthRepo) ListUsers(_ context.Context, query string, limit int) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.User
	for _, u := range r.users {
		if strings.Contains(u.Username, query) && len(out) < limit {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *memoryAuthRepo) UpdateUserPassword(_ context.Context, id uint, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return errNotFound
	}
	u.PasswordHash = hash
	r.users[id] = u
	return nil
}

func (r *memoryAuthRepo) DeleteUser(_ context.Context, id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

func (r *memoryAuthRepo) CreateSession(_ context.Context, s domain.AuthSession) (domain.AuthSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.TokenHash] = s
	return s, nil
}

func (r *memoryAuthRepo) GetSessionByTokenHash(_ context.Context, hash string) (domain.AuthSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[hash]
	if !ok {
		return domain.AuthSession{}, errNotFound
	}
	return s, nil
}

func (r *memoryAuthRepo) DeleteSessionByTokenHash(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, hash)
	return nil
}

func (r *memoryAuthRepo) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for hash, s := range r.sessions {
		if s.ExpiresAt.Before(now) {
			delete(r.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (r *memoryAuthRepo) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audit = append(r.audit, entry)
	return nil
}

func (r *memoryAuthRepo) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditRecord
	for i := len(r.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, domain.AuditRecord{Action: r.audit[i].Action, RemoteAddr: r.audit[i].RemoteAddr})
	}
	return out, nil
}

func (r *memoryAuthRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.audit))
	for _, a := range r.audit {
		out = append(out, a.Action)
	}
	return out
}

type historyCall struct {
	entityID   string
	start, end time.Time
	minimal    bool
}

type fakeRemote struct {
	mu      sync.Mutex
	states  []domain.StateEntry
	history map[string][]domain.HistoryEntry
	err     error
	calls   []historyCall
	stateN  int
	respond func(call historyCall) []domain.HistoryEntry
}

func (f *fakeRemote) States(context.Context) ([]domain.StateEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateN++
	if f.err != nil {
		return nil, f.err
	}
	return f.states, nil
}

func (f *fakeRemote) History(_ context.Context, entityID string, start, end time.Time, minimal bool) ([]domain.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := historyCall{entityID: entityID, start: start, end: end, minimal: minimal}
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	if f.respond != nil {
		return f.respond(call), nil
	}
	return f.history[entityID], nil
}
