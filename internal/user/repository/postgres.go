package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/svenmapprio/menuet/internal/db"
	"github.com/svenmapprio/menuet/internal/user/domain"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a user repository over q (a pool or a transaction).
func NewPostgresRepository(q db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: q}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, handle, first_name, last_name, picture, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Handle, &u.FirstName, &u.LastName, &u.Picture, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// Create inserts u and sets its ID and CreatedAt.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	return r.db.QueryRowContext(ctx,
		`INSERT INTO users (handle, first_name, last_name, picture) VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		u.Handle, u.FirstName, u.LastName, u.Picture,
	).Scan(&u.ID, &u.CreatedAt)
}

// UpdateProfile writes handle, names and picture.
func (r *PostgresRepository) UpdateProfile(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET handle = $2, first_name = $3, last_name = $4, picture = $5 WHERE id = $1`,
		u.ID, u.Handle, u.FirstName, u.LastName, u.Picture,
	)
	return err
}

// CountHandles counts handle collisions for base. base must consist of letters and digits only
// (see domain.BaseHandle), so it is safe inside the regular expression.
func (r *PostgresRepository) CountHandles(ctx context.Context, base string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM users WHERE handle ~ ('^' || $1::text || '[0-9]*$')`, base,
	).Scan(&n)
	return n, err
}

func (r *PostgresRepository) Search(ctx context.Context, viewerID int64, term string) ([]domain.ListItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.handle, s.user_id IS NOT NULL, o.user_id IS NOT NULL
		 FROM users u
		 LEFT JOIN friends s ON s.user_id = $1 AND s.friend_id = u.id
		 LEFT JOIN friends o ON o.user_id = u.id AND o.friend_id = $1
		 WHERE ($1::bigint = 0 OR u.id <> $1::bigint)
		   AND ($2::text = '' OR u.handle ILIKE '%' || $2::text || '%' ESCAPE '\')
		 ORDER BY u.handle, u.id`,
		viewerID, escapeLike(term),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.ListItem{}
	for rows.Next() {
		var it domain.ListItem
		if err := rows.Scan(&it.ID, &it.Handle, &it.Self, &it.Other); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) AddFriend(ctx context.Context, userID, friendID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO friends (user_id, friend_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, friendID)
	return err
}

func (r *PostgresRepository) RemoveFriend(ctx context.Context, userID, friendID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM friends WHERE user_id = $1 AND friend_id = $2`, userID, friendID)
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(term string) string {
	return likeEscaper.Replace(term)
}
