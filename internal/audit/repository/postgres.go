package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/svenmapprio/menuet/internal/audit/domain"
	"github.com/svenmapprio/menuet/internal/db"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an audit log repository over q.
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

const selectAuditLog = `SELECT id, COALESCE(user_id, 0), action, resource, ip, COALESCE(metadata, ''), created_at FROM audit_log`

// GetByID returns the audit log for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.AuditLog, error) {
	a, err := scanAuditLog(r.db.QueryRowContext(ctx, selectAuditLog+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ListByUser returns the newest limit entries recorded for userID.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		selectAuditLog+` WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*domain.AuditLog{}
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create persists the audit log. The audit log must have ID set; a zero CreatedAt is filled in.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	uid := sql.NullInt64{Int64: a.UserID, Valid: a.UserID != 0}
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	if a.CreatedAt.IsZero() {
		return r.db.QueryRowContext(ctx,
			`INSERT INTO audit_log (id, user_id, action, resource, ip, metadata) VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING created_at`,
			a.ID, uid, a.Action, a.Resource, a.IP, meta,
		).Scan(&a.CreatedAt)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, user_id, action, resource, ip, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, uid, a.Action, a.Resource, a.IP, meta, a.CreatedAt)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAuditLog(s scanner) (*domain.AuditLog, error) {
	var a domain.AuditLog
	if err := s.Scan(&a.ID, &a.UserID, &a.Action, &a.Resource, &a.IP, &a.Metadata, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
