package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/svenmapprio/menuet/internal/db"
	"github.com/svenmapprio/menuet/internal/enrichment/domain"
)

const taskColumns = `id, place_id, description, attempts, max_attempts, run_after, last_error`

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns an enrichment repository over q (a pool or a transaction).
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// Enqueue marks the place as generating and queues a task for it in one statement.
func (r *PostgresRepository) Enqueue(ctx context.Context, placeID int64, description string, maxAttempts int) (*domain.Task, error) {
	t := &domain.Task{PlaceID: placeID, Description: description, MaxAttempts: maxAttempts}
	err := r.db.QueryRowContext(ctx,
		`WITH status AS (`+upsertStatus+`)
		 INSERT INTO enrichment_tasks (place_id, description, max_attempts) VALUES ($1, $3, $4)
		 RETURNING id, run_after`,
		placeID, string(domain.StatusGenerating), description, maxAttempts,
	).Scan(&t.ID, &t.RunAfter)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Claim uses FOR UPDATE SKIP LOCKED so concurrent workers never claim the same task. The lease
// pushes run_after forward; a worker that dies mid-run leaves the task to be claimed again.
func (r *PostgresRepository) Claim(ctx context.Context, lease time.Duration) (*domain.Task, error) {
	var t domain.Task
	err := r.db.QueryRowContext(ctx,
		`UPDATE enrichment_tasks SET run_after = now() + make_interval(secs => $1)
		 WHERE id = (
		     SELECT id FROM enrichment_tasks
		     WHERE completed_at IS NULL AND failed_at IS NULL AND run_after <= now()
		     ORDER BY run_after, id
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+taskColumns,
		lease.Seconds(),
	).Scan(&t.ID, &t.PlaceID, &t.Description, &t.Attempts, &t.MaxAttempts, &t.RunAfter, &t.LastError)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// Complete marks the task done and the place's enrichment done in one statement, so a failed
// status write leaves the task claimable.
func (r *PostgresRepository) Complete(ctx context.Context, t *domain.Task) error {
	_, err := r.db.ExecContext(ctx,
		`WITH done AS (
		     UPDATE enrichment_tasks SET completed_at = now() WHERE id = $1 RETURNING place_id
		 )
		 INSERT INTO place_enrichment (place_id, status) SELECT place_id, $2::text FROM done
		 ON CONFLICT (place_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`,
		t.ID, string(domain.StatusDone))
	return err
}

// Fail records the attempt and, once attempts reach max_attempts, marks the task and the place
// failed. Both writes are one statement.
func (r *PostgresRepository) Fail(ctx context.Context, t *domain.Task, cause string, retryIn time.Duration) (bool, error) {
	var failed sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`WITH attempt AS (
		     UPDATE enrichment_tasks SET
		         attempts = attempts + 1,
		         last_error = $2,
		         failed_at = CASE WHEN attempts + 1 >= max_attempts THEN now() END,
		         run_after = now() + make_interval(secs => $3)
		     WHERE id = $1
		     RETURNING place_id, attempts, failed_at
		 ), status AS (
		     INSERT INTO place_enrichment (place_id, status)
		     SELECT place_id, $4::text FROM attempt WHERE failed_at IS NOT NULL
		     ON CONFLICT (place_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()
		 )
		 SELECT attempts, failed_at FROM attempt`,
		t.ID, cause, retryIn.Seconds(), string(domain.StatusGenerationFailed),
	).Scan(&t.Attempts, &failed)
	if err != nil {
		return false, err
	}
	t.LastError = cause
	return failed.Valid, nil
}

// MarkShouldRegenerate flags the place's enrichment as stale.
func (r *PostgresRepository) MarkShouldRegenerate(ctx context.Context, placeID int64) error {
	return r.setStatus(ctx, placeID, domain.StatusShouldRegenerate)
}

// Status returns the place's enrichment status, or "" when it was never enriched.
func (r *PostgresRepository) Status(ctx context.Context, placeID int64) (domain.Status, error) {
	var s domain.Status
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM place_enrichment WHERE place_id = $1`, placeID).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return s, err
}

const upsertStatus = `INSERT INTO place_enrichment (place_id, status) VALUES ($1, $2)
	ON CONFLICT (place_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()`

func (r *PostgresRepository) setStatus(ctx context.Context, placeID int64, s domain.Status) error {
	_, err := r.db.ExecContext(ctx, upsertStatus, placeID, string(s))
	return err
}
