package repository

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/svenmapprio/menuet/internal/identity/domain"
	userdomain "github.com/svenmapprio/menuet/internal/user/domain"
)

type accountKey struct {
	provider domain.Provider
	subject  string
}

// MemoryStore implements Store in process memory. WithinTx holds one lock for the whole
// transaction, which stands in for the advisory lock. Writes are not rolled back on error.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]userdomain.User
	accounts map[accountKey]domain.Account
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[int64]userdomain.User{}, accounts: map[accountKey]domain.Account{}}
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(memoryTx{m})
}

func (m *MemoryStore) SessionByUserID(_ context.Context, userID int64) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	var accts []domain.Account
	for _, a := range m.accounts {
		if a.UserID == userID {
			accts = append(accts, a)
		}
	}
	if len(accts) == 0 {
		return sessionFrom(&u, "", ""), nil
	}
	sort.Slice(accts, func(i, j int) bool { return accts[i].CreatedAt.Before(accts[j].CreatedAt) })
	return sessionFrom(&u, accts[0].Provider, accts[0].Subject), nil
}

// AddUser inserts u directly, bypassing provisioning. Used to seed handles in tests.
func (m *MemoryStore) AddUser(u userdomain.User) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u.ID = m.nextID
	m.users[u.ID] = u
	return u.ID
}

// Users returns all users ordered by id.
func (m *MemoryStore) Users() []userdomain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]userdomain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memoryTx runs with MemoryStore.mu held.
type memoryTx struct{ m *MemoryStore }

func (memoryTx) LockSubject(context.Context, domain.Provider, string) error { return nil }

func (t memoryTx) SessionBySubject(_ context.Context, provider domain.Provider, subject string) (*domain.Session, error) {
	a, ok := t.m.accounts[accountKey{provider, subject}]
	if !ok {
		return nil, nil
	}
	u := t.m.users[a.UserID]
	return sessionFrom(&u, provider, subject), nil
}

func (t memoryTx) CountHandles(_ context.Context, base string) (int, error) {
	re, err := regexp.Compile("^" + regexp.QuoteMeta(base) + "[0-9]*$")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, u := range t.m.users {
		if re.MatchString(u.Handle) {
			n++
		}
	}
	return n, nil
}

func (t memoryTx) CreateUser(_ context.Context, u *userdomain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	t.m.nextID++
	u.ID = t.m.nextID
	u.CreatedAt = time.Now().UTC()
	t.m.users[u.ID] = *u
	return nil
}

func (t memoryTx) CreateAccount(_ context.Context, a *domain.Account) error {
	a.CreatedAt = time.Now().UTC()
	t.m.accounts[accountKey{a.Provider, a.Subject}] = *a
	return nil
}
