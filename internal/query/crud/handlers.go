// Package crud is the default query handler table, backed by Postgres.
package crud

import (
	"context"
	"database/sql"

	"github.com/svenmapprio/menuet/internal/db"
	identitydomain "github.com/svenmapprio/menuet/internal/identity/domain"
	"github.com/svenmapprio/menuet/internal/query"
	userdomain "github.com/svenmapprio/menuet/internal/user/domain"
	userrepo "github.com/svenmapprio/menuet/internal/user/repository"
)

// Handlers implements query.Handlers. Every call runs in its own transaction.
type Handlers struct {
	db *sql.DB
}

var _ query.Handlers = (*Handlers)(nil)

// New returns handlers over the given pool.
func New(conn *sql.DB) *Handlers {
	return &Handlers{db: conn}
}

// Search lists users matching the term with friendship flags relative to the caller. The caller
// is excluded when the connection is bound.
func (h *Handlers) Search(ctx context.Context, session *identitydomain.Session, req query.SearchRequest) (any, error) {
	var viewer int64
	if session != nil {
		viewer = session.User.ID
	}
	items := []userdomain.ListItem{}
	err := db.WithTx(ctx, h.db, func(tx *sql.Tx) error {
		found, err := userrepo.NewPostgresRepository(tx).Search(ctx, viewer, req.Term)
		if err != nil {
			return err
		}
		items = append(items, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
