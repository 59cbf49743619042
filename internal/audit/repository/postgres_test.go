package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/svenmapprio/menuet/internal/audit/domain"
	"github.com/svenmapprio/menuet/internal/db/dbtest"
	userdomain "github.com/svenmapprio/menuet/internal/user/domain"
	userrepo "github.com/svenmapprio/menuet/internal/user/repository"
)

func TestPostgresRepository(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewPostgresRepository(conn)
	ctx := context.Background()

	u := &userdomain.User{Handle: "ada"}
	require.NoError(t, userrepo.NewPostgresRepository(conn).Create(ctx, u))

	missing, err := repo.GetByID(ctx, uuid.NewString())
	require.NoError(t, err)
	require.Nil(t, missing)

	base := time.Now().UTC().Truncate(time.Second)
	older := &domain.AuditLog{ID: uuid.NewString(), UserID: u.ID, Action: "update", Resource: "user", IP: "10.0.0.1", CreatedAt: base.Add(-time.Minute)}
	newer := &domain.AuditLog{ID: uuid.NewString(), UserID: u.ID, Action: "friend_added", Resource: "friend", IP: "10.0.0.1", Metadata: `{"userId":2}`, CreatedAt: base}
	anon := &domain.AuditLog{ID: uuid.NewString(), Action: "logout", Resource: "session", IP: "unknown"}
	for _, a := range []*domain.AuditLog{older, newer, anon} {
		require.NoError(t, repo.Create(ctx, a))
	}
	require.False(t, anon.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, anon.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.UserID)
	require.Empty(t, got.Metadata)

	list, err := repo.ListByUser(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, newer.ID, list[0].ID)
	require.Equal(t, `{"userId":2}`, list[0].Metadata)

	list, err = repo.ListByUser(ctx, u.ID, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = repo.ListByUser(ctx, u.ID+100, 10)
	require.NoError(t, err)
	require.NotNil(t, list)
	require.Empty(t, list)
}
