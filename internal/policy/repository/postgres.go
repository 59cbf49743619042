package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/svenmapprio/menuet/internal/db"
	"github.com/svenmapprio/menuet/internal/policy/domain"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a guard policy repository over q.
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// GetByID returns the policy for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Policy, error) {
	var p domain.Policy
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, rules, enabled, created_at FROM guard_policies WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Rules, &p.Enabled, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// ListEnabled returns the enabled policies ordered by name.
func (r *PostgresRepository) ListEnabled(ctx context.Context) ([]*domain.Policy, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, rules, enabled, created_at FROM guard_policies WHERE enabled ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Policy
	for rows.Next() {
		var p domain.Policy
		if err := rows.Scan(&p.ID, &p.Name, &p.Rules, &p.Enabled, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Create persists p. The policy must have ID set; CreatedAt is filled in.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Policy) error {
	return r.db.QueryRowContext(ctx,
		`INSERT INTO guard_policies (id, name, rules, enabled) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		p.ID, p.Name, p.Rules, p.Enabled,
	).Scan(&p.CreatedAt)
}

// Update replaces the rules and enabled flag of an existing policy.
func (r *PostgresRepository) Update(ctx context.Context, p *domain.Policy) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE guard_policies SET rules = $2, enabled = $3 WHERE id = $1`, p.ID, p.Rules, p.Enabled)
	return err
}
