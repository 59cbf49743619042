package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/svenmapprio/menuet/internal/connection/domain"
	"github.com/svenmapprio/menuet/internal/db"
)

// PostgresRegistry stores bindings in connection_bindings.
type PostgresRegistry struct {
	db db.DBTX
}

// NewPostgresRegistry returns a registry backed by q (a pool or a transaction).
func NewPostgresRegistry(q db.DBTX) *PostgresRegistry {
	return &PostgresRegistry{db: q}
}

// Get returns the binding for connID, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRegistry) Get(ctx context.Context, connID string) (*domain.Binding, error) {
	var b domain.Binding
	err := r.db.QueryRowContext(ctx,
		`SELECT connection_id, user_id, created_at FROM connection_bindings WHERE connection_id = $1`,
		connID,
	).Scan(&b.ConnectionID, &b.UserID, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

// Set upserts on connection_id, so a connection never holds two bindings.
func (r *PostgresRegistry) Set(ctx context.Context, connID string, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO connection_bindings (connection_id, user_id, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (connection_id) DO UPDATE SET user_id = EXCLUDED.user_id, created_at = EXCLUDED.created_at`,
		connID, userID,
	)
	return err
}

func (r *PostgresRegistry) Remove(ctx context.Context, connID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM connection_bindings WHERE connection_id = $1`, connID)
	return err
}
