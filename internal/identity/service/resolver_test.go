package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	connrepo "github.com/svenmapprio/menuet/internal/connection/repository"
	"github.com/svenmapprio/menuet/internal/db/dbtest"
	"github.com/svenmapprio/menuet/internal/identity/domain"
	"github.com/svenmapprio/menuet/internal/identity/provider"
	"github.com/svenmapprio/menuet/internal/identity/repository"
	sessiondomain "github.com/svenmapprio/menuet/internal/oauthsession/domain"
	sessionrepo "github.com/svenmapprio/menuet/internal/oauthsession/repository"
	userdomain "github.com/svenmapprio/menuet/internal/user/domain"
)

type fixture struct {
	resolver *Resolver
	store    *repository.MemoryStore
	sessions *sessionrepo.MemoryRepository
	bindings *connrepo.MemoryRegistry
	google   *provider.Fake
	apple    *provider.Fake
}

func newFixture() *fixture {
	f := &fixture{
		store:    repository.NewMemoryStore(),
		sessions: sessionrepo.NewMemoryRepository(),
		bindings: connrepo.NewMemoryRegistry(),
		google:   provider.NewFake(domain.ProviderGoogle),
		apple:    provider.NewFake(domain.ProviderApple),
	}
	f.resolver = NewResolver(f.store, f.sessions, f.bindings, zerolog.Nop(), f.google, f.apple)
	return f
}

var alice = domain.Profile{FirstName: "Alice", LastName: "Smith", Email: "alice@example.com"}

// signIn redeems a fresh code and returns the result.
func (f *fixture) signIn(t *testing.T, fake *provider.Fake, subject string) *Result {
	t.Helper()
	code := "code-" + uuid.NewString()
	fake.AddCode(code, subject, alice)
	res := f.resolver.Resolve(context.Background(), domain.Credentials{Authorization: "Bearer " + string(fake.Provider()) + code})
	require.NotNil(t, res.Session)
	require.NotEmpty(t, res.IssuedSessionID)
	return res
}

func TestResolve_Anonymous(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	testCases := []struct {
		name  string
		creds domain.Credentials
		clear bool
	}{
		{"no credentials", domain.Credentials{}, false},
		{"malformed header", domain.Credentials{Authorization: "Basic abc"}, false},
		{"unknown provider tag", domain.Credentials{Authorization: "Bearer github123"}, false},
		{"bad code", domain.Credentials{Authorization: "Bearer googlenope"}, false},
		{"unbound connection", domain.Credentials{ConnectionID: "conn-1"}, false},
		{"garbage session id", domain.Credentials{SessionID: "not-a-uuid"}, true},
		{"unknown session id", domain.Credentials{SessionID: uuid.NewString()}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.resolver.Resolve(ctx, tc.creds)
			require.Nil(t, res.Session)
			require.Empty(t, res.IssuedSessionID)
			require.Equal(t, tc.clear, res.ClearSessionCookie)
		})
	}
}

func TestResolve_CodeProvisionsUser(t *testing.T) {
	f := newFixture()
	res := f.signIn(t, f.google, "sub-1")

	require.Equal(t, domain.Identity{Provider: domain.ProviderGoogle, ExternalSubject: "sub-1"}, res.Session.Identity)
	require.Equal(t, "alicesmith", res.Session.User.Handle)
	require.Equal(t, "Alice Smith", res.Session.User.DisplayName)

	stored, err := f.sessions.GetByID(context.Background(), res.IssuedSessionID)
	require.NoError(t, err)
	require.Equal(t, "google", stored.Provider)

	// Signing in again with a new code reuses the account.
	again := f.signIn(t, f.google, "sub-1")
	require.Equal(t, res.Session.User.ID, again.Session.User.ID)
	require.NotEqual(t, res.IssuedSessionID, again.IssuedSessionID)
	require.Len(t, f.store.Users(), 1)
}

func TestResolve_HandleCollision(t *testing.T) {
	f := newFixture()
	f.store.AddUser(userdomain.User{Handle: "alice"})
	f.store.AddUser(userdomain.User{Handle: "alice2"})
	f.store.AddUser(userdomain.User{Handle: "alicesmith"})

	f.google.AddCode("c", "sub-a", domain.Profile{FirstName: "Alice"})
	res := f.resolver.Resolve(context.Background(), domain.Credentials{Authorization: "Bearer googlec"})
	require.NotNil(t, res.Session)
	require.Equal(t, "alice3", res.Session.User.Handle)
}

func TestResolve_EmptyNameGetsDefaultHandle(t *testing.T) {
	f := newFixture()
	f.apple.AddCode("c", "apple-sub", domain.Profile{})
	res := f.resolver.Resolve(context.Background(), domain.Credentials{Authorization: "Bearer applec"})
	require.NotNil(t, res.Session)
	require.Equal(t, userdomain.DefaultHandleBase, res.Session.User.Handle)
}

func TestResolve_DurableSessionValidAccess(t *testing.T) {
	f := newFixture()
	first := f.signIn(t, f.google, "sub-1")
	before, _ := f.sessions.GetByID(context.Background(), first.IssuedSessionID)

	res := f.resolver.Resolve(context.Background(), domain.Credentials{SessionID: first.IssuedSessionID})
	require.NotNil(t, res.Session)
	require.Equal(t, first.Session.User.ID, res.Session.User.ID)
	require.False(t, res.ClearSessionCookie)
	require.Zero(t, f.google.Calls("refresh"))

	after, _ := f.sessions.GetByID(context.Background(), first.IssuedSessionID)
	require.Equal(t, before.RefreshToken, after.RefreshToken)
}

func TestResolve_RefreshRotatesSingleUse(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.signIn(t, f.google, "sub-1")
	id := first.IssuedSessionID
	before, _ := f.sessions.GetByID(ctx, id)

	f.google.ExpireAccess(before.AccessToken)
	res := f.resolver.Resolve(ctx, domain.Credentials{SessionID: id})
	require.NotNil(t, res.Session)
	require.Equal(t, first.Session.User.ID, res.Session.User.ID)
	require.Equal(t, 1, f.google.Calls("refresh"))

	after, _ := f.sessions.GetByID(ctx, id)
	require.NotEqual(t, before.AccessToken, after.AccessToken)
	require.NotEqual(t, before.RefreshToken, after.RefreshToken)

	// The just-replaced refresh token no longer rotates the row.
	err := f.sessions.RotateTokens(ctx, id, before.RefreshToken, "x", "y")
	require.True(t, errors.Is(err, sessiondomain.ErrStaleRefreshToken))
	_, _, err = f.google.Refresh(ctx, before.RefreshToken)
	require.Error(t, err)

	// The newly issued one does.
	f.google.ExpireAccess(after.AccessToken)
	res = f.resolver.Resolve(ctx, domain.Credentials{SessionID: id})
	require.NotNil(t, res.Session)
	require.Equal(t, 2, f.google.Calls("refresh"))
}

func TestResolve_RefreshFailureClearsCookieKeepsRow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.signIn(t, f.google, "sub-1")
	stored, _ := f.sessions.GetByID(ctx, first.IssuedSessionID)
	f.google.ExpireAccess(stored.AccessToken)
	f.google.RevokeRefresh(stored.RefreshToken)

	res := f.resolver.Resolve(ctx, domain.Credentials{SessionID: first.IssuedSessionID})
	require.Nil(t, res.Session)
	require.True(t, res.ClearSessionCookie)

	row, err := f.sessions.GetByID(ctx, first.IssuedSessionID)
	require.NoError(t, err)
	require.NotNil(t, row)
}

func TestResolve_FallsThroughToConnection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.signIn(t, f.google, "sub-1")
	stored, _ := f.sessions.GetByID(ctx, first.IssuedSessionID)
	f.google.ExpireAccess(stored.AccessToken)
	f.google.RevokeRefresh(stored.RefreshToken)
	require.NoError(t, f.bindings.Set(ctx, "conn-1", first.Session.User.ID))

	res := f.resolver.Resolve(ctx, domain.Credentials{SessionID: first.IssuedSessionID, ConnectionID: "conn-1"})
	require.NotNil(t, res.Session)
	require.Equal(t, first.Session.User.ID, res.Session.User.ID)
	require.True(t, res.ClearSessionCookie)
}

func TestResolve_AppleAlwaysRefreshes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.signIn(t, f.apple, "apple-sub")

	for i := 1; i <= 2; i++ {
		res := f.resolver.Resolve(ctx, domain.Credentials{SessionID: first.IssuedSessionID})
		require.NotNil(t, res.Session, "round %d", i)
		require.Equal(t, first.Session.User.ID, res.Session.User.ID)
		require.Equal(t, i, f.apple.Calls("refresh"))
	}
}

func TestResolveConnection(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	first := f.signIn(t, f.google, "sub-1")

	s, err := f.resolver.ResolveConnection(ctx, "conn-1")
	require.NoError(t, err)
	require.Nil(t, s)

	require.NoError(t, f.bindings.Set(ctx, "conn-1", first.Session.User.ID))
	s, err = f.resolver.ResolveConnection(ctx, "conn-1")
	require.NoError(t, err)
	require.Equal(t, first.Session.User, s.User)
	require.Equal(t, first.Session.Identity, s.Identity)
}

func resolveInParallel(t *testing.T, r *Resolver, fake *provider.Fake, n int) []*Result {
	t.Helper()
	for i := 0; i < n; i++ {
		fake.AddCode("p"+strconv.Itoa(i), "same-subject", alice)
	}
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), domain.Credentials{Authorization: "Bearer google" + "p" + strconv.Itoa(i)})
		}(i)
	}
	wg.Wait()
	return results
}

func TestResolve_ConcurrentFirstLoginYieldsOneUser(t *testing.T) {
	f := newFixture()
	results := resolveInParallel(t, f.resolver, f.google, 16)
	for i, res := range results {
		require.NotNil(t, res.Session, "attempt %d", i)
		require.Equal(t, results[0].Session.User.ID, res.Session.User.ID)
	}
	require.Len(t, f.store.Users(), 1)
}

func TestResolve_ConcurrentFirstLoginPostgres(t *testing.T) {
	conn := dbtest.Open(t)
	google := provider.NewFake(domain.ProviderGoogle)
	r := NewResolver(repository.NewPostgresStore(conn), sessionrepo.NewPostgresRepository(conn, nil),
		connrepo.NewPostgresRegistry(conn), zerolog.Nop(), google)

	results := resolveInParallel(t, r, google, 16)
	for i, res := range results {
		require.NotNil(t, res.Session, "attempt %d", i)
		require.Equal(t, results[0].Session.User.ID, res.Session.User.ID)
	}
	var users, accounts int
	require.NoError(t, conn.QueryRow(`SELECT count(*) FROM users`).Scan(&users))
	require.NoError(t, conn.QueryRow(`SELECT count(*) FROM accounts`).Scan(&accounts))
	require.Equal(t, 1, users)
	require.Equal(t, 1, accounts)
}

// barrier releases every waiter once want callers have arrived.
type barrier struct {
	want    int32
	arrived atomic.Int32
	open    chan struct{}
}

func newBarrier(want int32) *barrier { return &barrier{want: want, open: make(chan struct{})} }

func (b *barrier) wait() {
	if b.arrived.Add(1) == b.want {
		close(b.open)
	}
	<-b.open
}

// racingClient holds every Verify of the stale access token at a barrier so all callers load the
// same row, then lets the first Refresh win and holds later ones until that rotation is stored.
type racingClient struct {
	provider.Client
	stale    string
	verified *barrier
	rotated  chan struct{}
	refresh  atomic.Int32
}

func (c *racingClient) Verify(ctx context.Context, accessToken string) (*domain.ExternalIdentity, error) {
	ident, err := c.Client.Verify(ctx, accessToken)
	if err != nil && accessToken == c.stale {
		c.verified.wait()
	}
	return ident, err
}

func (c *racingClient) Refresh(ctx context.Context, refreshToken string) (*provider.Tokens, *domain.ExternalIdentity, error) {
	if c.refresh.Add(1) > 1 {
		<-c.rotated
	}
	return c.Client.Refresh(ctx, refreshToken)
}

type signallingSessions struct {
	SessionRepo
	rotated chan struct{}
	once    sync.Once
}

func (s *signallingSessions) RotateTokens(ctx context.Context, id, oldRefresh, newAccess, newRefresh string) error {
	err := s.SessionRepo.RotateTokens(ctx, id, oldRefresh, newAccess, newRefresh)
	if err == nil {
		s.once.Do(func() { close(s.rotated) })
	}
	return err
}

func TestResolve_ConcurrentRefreshKeepsBothRequests(t *testing.T) {
	for _, tc := range []struct {
		name       string
		p          domain.Provider
		processes  int
		minRefresh int
	}{
		{name: "google one process", p: domain.ProviderGoogle, processes: 1, minRefresh: 1},
		{name: "google two processes", p: domain.ProviderGoogle, processes: 2, minRefresh: 2},
		{name: "apple two processes", p: domain.ProviderApple, processes: 2, minRefresh: 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			fake := f.google
			if tc.p == domain.ProviderApple {
				fake = f.apple
			}
			first := f.signIn(t, fake, "sub-1")
			stored, _ := f.sessions.GetByID(ctx, first.IssuedSessionID)
			fake.ExpireAccess(stored.AccessToken)

			rotated := make(chan struct{})
			client := &racingClient{Client: fake, stale: stored.AccessToken, verified: newBarrier(2), rotated: rotated}
			sessions := &signallingSessions{SessionRepo: f.sessions, rotated: rotated}
			resolvers := make([]*Resolver, tc.processes)
			for i := range resolvers {
				resolvers[i] = NewResolver(f.store, sessions, f.bindings, zerolog.Nop(), client)
			}

			results := make([]*Result, 2)
			var wg sync.WaitGroup
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					r := resolvers[i%len(resolvers)]
					results[i] = r.Resolve(ctx, domain.Credentials{SessionID: first.IssuedSessionID})
				}(i)
			}
			wg.Wait()

			for i, res := range results {
				require.NotNil(t, res.Session, "request %d", i)
				require.Equal(t, first.Session.User.ID, res.Session.User.ID)
				require.False(t, res.ClearSessionCookie, "request %d", i)
			}
			require.GreaterOrEqual(t, fake.Calls("refresh"), tc.minRefresh)

			after, _ := f.sessions.GetByID(ctx, first.IssuedSessionID)
			require.NotEqual(t, stored.RefreshToken, after.RefreshToken)
		})
	}
}
