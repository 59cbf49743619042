package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/svenmapprio/menuet/internal/db"
	"github.com/svenmapprio/menuet/internal/identity/domain"
	userdomain "github.com/svenmapprio/menuet/internal/user/domain"
	userrepo "github.com/svenmapprio/menuet/internal/user/repository"
)

const sessionColumns = `u.id, u.handle, u.first_name, u.last_name, u.picture, u.created_at`

// PostgresStore implements Store on the accounts and users tables.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a Store over the given pool.
func NewPostgresStore(conn *sql.DB) *PostgresStore {
	return &PostgresStore{db: conn}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&postgresTx{q: tx, users: userrepo.NewPostgresRepository(tx)})
	})
}

// SessionByUserID uses the user's oldest account for the identity half. A user without accounts
// (e.g. seeded data) yields an empty identity.
func (s *PostgresStore) SessionByUserID(ctx context.Context, userID int64) (*domain.Session, error) {
	var (
		u                 userdomain.User
		provider, subject sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`, a.provider, a.subject
		 FROM users u
		 LEFT JOIN LATERAL (
		     SELECT provider, subject FROM accounts WHERE user_id = u.id ORDER BY created_at LIMIT 1
		 ) a ON true
		 WHERE u.id = $1`, userID,
	).Scan(&u.ID, &u.Handle, &u.FirstName, &u.LastName, &u.Picture, &u.CreatedAt, &provider, &subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sessionFrom(&u, domain.Provider(provider.String), subject.String), nil
}

type postgresTx struct {
	q     db.DBTX
	users *userrepo.PostgresRepository
}

func (t *postgresTx) LockSubject(ctx context.Context, provider domain.Provider, subject string) error {
	_, err := t.q.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || $2::text))`, string(provider), subject)
	return err
}

func (t *postgresTx) SessionBySubject(ctx context.Context, provider domain.Provider, subject string) (*domain.Session, error) {
	var u userdomain.User
	err := t.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM accounts a JOIN users u ON u.id = a.user_id
		 WHERE a.provider = $1 AND a.subject = $2`, string(provider), subject,
	).Scan(&u.ID, &u.Handle, &u.FirstName, &u.LastName, &u.Picture, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sessionFrom(&u, provider, subject), nil
}

func (t *postgresTx) CountHandles(ctx context.Context, base string) (int, error) {
	return t.users.CountHandles(ctx, base)
}

func (t *postgresTx) CreateUser(ctx context.Context, u *userdomain.User) error {
	return t.users.Create(ctx, u)
}

func (t *postgresTx) CreateAccount(ctx context.Context, a *domain.Account) error {
	return t.q.QueryRowContext(ctx,
		`INSERT INTO accounts (provider, subject, user_id, email) VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		string(a.Provider), a.Subject, a.UserID, a.Email,
	).Scan(&a.CreatedAt)
}
