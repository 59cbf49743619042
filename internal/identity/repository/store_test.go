package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/svenmapprio/menuet/internal/db/dbtest"
	"github.com/svenmapprio/menuet/internal/identity/domain"
	userdomain "github.com/svenmapprio/menuet/internal/user/domain"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	var userID int64
	err := s.WithinTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.LockSubject(ctx, domain.ProviderGoogle, "sub-1"))
		got, err := tx.SessionBySubject(ctx, domain.ProviderGoogle, "sub-1")
		require.NoError(t, err)
		require.Nil(t, got)

		for _, h := range []string{"alice", "alice2", "alicesmith"} {
			require.NoError(t, tx.CreateUser(ctx, &userdomain.User{Handle: h}))
		}
		n, err := tx.CountHandles(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		u := &userdomain.User{Handle: "alice3", FirstName: "Alice", LastName: "Liddell"}
		require.NoError(t, tx.CreateUser(ctx, u))
		userID = u.ID
		return tx.CreateAccount(ctx, &domain.Account{Provider: domain.ProviderGoogle, Subject: "sub-1", UserID: u.ID, Email: "a@example.com"})
	})
	require.NoError(t, err)

	err = s.WithinTx(ctx, func(tx Tx) error {
		got, err := tx.SessionBySubject(ctx, domain.ProviderGoogle, "sub-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Equal(t, userID, got.User.ID)
		require.Equal(t, "Alice Liddell", got.User.DisplayName)
		return nil
	})
	require.NoError(t, err)

	got, err := s.SessionByUserID(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, domain.Identity{Provider: domain.ProviderGoogle, ExternalSubject: "sub-1"}, got.Identity)
	require.Equal(t, "alice3", got.User.Handle)

	missing, err := s.SessionByUserID(ctx, 999999)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestPostgresStore(t *testing.T) {
	exerciseStore(t, NewPostgresStore(dbtest.Open(t)))
}
