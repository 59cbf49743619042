package repository

import (
	"context"

	"github.com/svenmapprio/menuet/internal/identity/domain"
	userdomain "github.com/svenmapprio/menuet/internal/user/domain"
)

// Tx is the set of operations provisioning runs inside one transaction.
type Tx interface {
	// LockSubject serializes concurrent provisioning of the same (provider, subject) until the
	// transaction ends.
	LockSubject(ctx context.Context, provider domain.Provider, subject string) error
	// SessionBySubject returns the session for an existing account, or nil if none exists.
	SessionBySubject(ctx context.Context, provider domain.Provider, subject string) (*domain.Session, error)
	// CountHandles counts users whose handle is base or base followed by digits.
	CountHandles(ctx context.Context, base string) (int, error)
	CreateUser(ctx context.Context, u *userdomain.User) error
	CreateAccount(ctx context.Context, a *domain.Account) error
}

// Store persists accounts and reads sessions.
type Store interface {
	// WithinTx runs fn in a transaction that commits when fn returns nil.
	WithinTx(ctx context.Context, fn func(Tx) error) error
	// SessionByUserID returns the session for a user, or nil if the user does not exist.
	SessionByUserID(ctx context.Context, userID int64) (*domain.Session, error)
}

func sessionFrom(u *userdomain.User, provider domain.Provider, subject string) *domain.Session {
	return &domain.Session{
		Identity: domain.Identity{Provider: provider, ExternalSubject: subject},
		User: domain.SessionUser{
			ID:          u.ID,
			Handle:      u.Handle,
			FirstName:   u.FirstName,
			LastName:    u.LastName,
			DisplayName: u.Name(),
		},
	}
}
