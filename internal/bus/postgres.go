package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/db"
)

// maxInlinePayload keeps notifications under Postgres' 8000-byte NOTIFY limit.
const maxInlinePayload = 7000

const createAttachmentsTable = `CREATE TABLE IF NOT EXISTS bus_attachments (
    id          BIGSERIAL PRIMARY KEY,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    payload     BYTEA NOT NULL
)`

// EnsureSchema creates the attachment table if it is missing.
func EnsureSchema(ctx context.Context, q db.DBTX) error {
	if _, err := q.ExecContext(ctx, createAttachmentsTable); err != nil {
		return fmt.Errorf("bus: ensure schema: %w", err)
	}
	return nil
}

// PostgresTransport fans out over LISTEN/NOTIFY on one channel. The listener holds a dedicated
// connection; publishing goes through the shared pool or the caller's transaction.
type PostgresTransport struct {
	dsn     string
	db      *sql.DB
	channel string
	log     zerolog.Logger

	// PruneAfter is how long attachments are kept; PruneEvery is how often the listener prunes.
	PruneAfter time.Duration
	PruneEvery time.Duration
}

// NewPostgresTransport returns a transport publishing through pool and listening on channel with
// its own connection opened from dsn.
func NewPostgresTransport(dsn string, pool *sql.DB, channel string, log zerolog.Logger) *PostgresTransport {
	return &PostgresTransport{
		dsn:        dsn,
		db:         pool,
		channel:    channel,
		log:        log,
		PruneAfter: time.Hour,
		PruneEvery: 10 * time.Minute,
	}
}

func (t *PostgresTransport) Publish(ctx context.Context, msg []byte) error {
	return t.publish(ctx, t.db, msg)
}

func (t *PostgresTransport) PublishTx(ctx context.Context, tx db.DBTX, msg []byte) error {
	return t.publish(ctx, tx, msg)
}

func (t *PostgresTransport) publish(ctx context.Context, q db.DBTX, msg []byte) error {
	if len(msg) > maxInlinePayload {
		var id int64
		err := q.QueryRowContext(ctx,
			`INSERT INTO bus_attachments (payload) VALUES ($1) RETURNING id`, msg).Scan(&id)
		if err != nil {
			return fmt.Errorf("bus: store attachment: %w", err)
		}
		ref, err := json.Marshal(Envelope{Attachment: id})
		if err != nil {
			return err
		}
		msg = ref
	}
	if _, err := q.ExecContext(ctx, `SELECT pg_notify($1, $2)`, t.channel, string(msg)); err != nil {
		return fmt.Errorf("bus: notify: %w", err)
	}
	return nil
}

func (t *PostgresTransport) Listen(ctx context.Context, ready func(), deliver func([]byte)) error {
	conn, err := pgx.Connect(ctx, t.dsn)
	if err != nil {
		return fmt.Errorf("bus: connect listener: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{t.channel}.Sanitize()); err != nil {
		return fmt.Errorf("bus: listen: %w", err)
	}
	ready()

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go t.pruneLoop(pruneCtx)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bus: wait for notification: %w", err)
		}
		msg, err := t.resolve(ctx, []byte(n.Payload))
		if err != nil {
			t.log.Warn().Err(err).Msg("bus: dropping notification")
			continue
		}
		deliver(msg)
	}
}

// resolve swaps an attachment reference for the stored envelope.
func (t *PostgresTransport) resolve(ctx context.Context, msg []byte) ([]byte, error) {
	var ref struct {
		Attachment int64 `json:"attachment"`
	}
	if err := json.Unmarshal(msg, &ref); err != nil || ref.Attachment == 0 {
		return msg, nil
	}
	var payload []byte
	err := t.db.QueryRowContext(ctx,
		`SELECT payload FROM bus_attachments WHERE id = $1`, ref.Attachment).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bus: attachment %d not found", ref.Attachment)
	}
	if err != nil {
		return nil, fmt.Errorf("bus: load attachment %d: %w", ref.Attachment, err)
	}
	return payload, nil
}

func (t *PostgresTransport) pruneLoop(ctx context.Context) {
	if t.PruneEvery <= 0 {
		return
	}
	ticker := time.NewTicker(t.PruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := t.Prune(ctx, time.Now().Add(-t.PruneAfter))
			if err != nil {
				t.log.Warn().Err(err).Msg("bus: prune attachments")
				continue
			}
			if n > 0 {
				t.log.Debug().Int64("deleted", n).Msg("bus: pruned attachments")
			}
		}
	}
}

// Prune deletes attachments created before cutoff.
func (t *PostgresTransport) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM bus_attachments WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
