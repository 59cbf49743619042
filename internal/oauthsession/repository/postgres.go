package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/svenmapprio/menuet/internal/db"
	"github.com/svenmapprio/menuet/internal/oauthsession/domain"
	"github.com/svenmapprio/menuet/internal/security"
)

// PostgresRepository stores sessions in oauth_sessions, sealing tokens when a sealer is set.
type PostgresRepository struct {
	db     db.DBTX
	sealer *security.Sealer
}

// NewPostgresRepository returns an OAuth session repository over q. sealer may be nil.
func NewPostgresRepository(q db.DBTX, sealer *security.Sealer) *PostgresRepository {
	return &PostgresRepository{db: q, sealer: sealer}
}

func (r *PostgresRepository) Create(ctx context.Context, s *domain.OAuthSession) error {
	access, err := r.sealer.Seal(s.AccessToken, s.ID)
	if err != nil {
		return err
	}
	refresh, err := r.sealer.Seal(s.RefreshToken, s.ID)
	if err != nil {
		return err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO oauth_sessions (id, provider, access_token, refresh_token, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.Provider, access, refresh, s.CreatedAt,
	)
	return err
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.OAuthSession, error) {
	var (
		s         domain.OAuthSession
		refreshed sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, provider, access_token, refresh_token, created_at, refreshed_at
		 FROM oauth_sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.Provider, &s.AccessToken, &s.RefreshToken, &s.CreatedAt, &refreshed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if refreshed.Valid {
		t := refreshed.Time
		s.RefreshedAt = &t
	}
	if s.AccessToken, err = r.sealer.Open(s.AccessToken, s.ID); err != nil {
		return nil, fmt.Errorf("open access token: %w", err)
	}
	if s.RefreshToken, err = r.sealer.Open(s.RefreshToken, s.ID); err != nil {
		return nil, fmt.Errorf("open refresh token: %w", err)
	}
	return &s, nil
}

// RotateTokens compares oldRefresh against the unsealed stored token, then writes both tokens in
// an UPDATE conditioned on the sealed value it read. Sealed values carry random nonces, so the
// plaintext comparison cannot be pushed into the WHERE clause; a rotation that lands in between
// changes the sealed value and the UPDATE matches no row.
func (r *PostgresRepository) RotateTokens(ctx context.Context, id, oldRefresh, newAccess, newRefresh string) error {
	var stored string
	err := r.db.QueryRowContext(ctx,
		`SELECT refresh_token FROM oauth_sessions WHERE id = $1`, id,
	).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrStaleRefreshToken
	}
	if err != nil {
		return err
	}
	current, err := r.sealer.Open(stored, id)
	if err != nil {
		return err
	}
	if current != oldRefresh {
		return domain.ErrStaleRefreshToken
	}

	access, err := r.sealer.Seal(newAccess, id)
	if err != nil {
		return err
	}
	refresh, err := r.sealer.Seal(newRefresh, id)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE oauth_sessions SET access_token = $2, refresh_token = $3, refreshed_at = now()
		 WHERE id = $1 AND refresh_token = $4`,
		id, access, refresh, stored,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return domain.ErrStaleRefreshToken
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM oauth_sessions WHERE id = $1`, id)
	return err
}
