package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	conndomain "github.com/svenmapprio/menuet/internal/connection/domain"
	"github.com/svenmapprio/menuet/internal/identity/domain"
	"github.com/svenmapprio/menuet/internal/identity/provider"
	"github.com/svenmapprio/menuet/internal/identity/repository"
	sessiondomain "github.com/svenmapprio/menuet/internal/oauthsession/domain"
	"github.com/svenmapprio/menuet/internal/security"
	userdomain "github.com/svenmapprio/menuet/internal/user/domain"
)

// Sentinel errors for resolution paths. They are logged, never returned from Resolve.
var (
	ErrUnknownProvider = errors.New("identity: unknown provider")
	ErrSessionNotFound = errors.New("identity: oauth session not found")
	ErrMalformedBearer = errors.New("identity: malformed authorization header")
	ErrEmptyIdentity   = errors.New("identity: provider returned no subject")
	errRefreshFailed   = errors.New("identity: refresh failed")
)

// SessionRepo is the minimal OAuth session repository needed by the resolver.
type SessionRepo interface {
	Create(ctx context.Context, s *sessiondomain.OAuthSession) error
	GetByID(ctx context.Context, id string) (*sessiondomain.OAuthSession, error)
	RotateTokens(ctx context.Context, id, oldRefresh, newAccess, newRefresh string) error
}

// BindingRepo is the minimal connection registry needed by the resolver.
type BindingRepo interface {
	Get(ctx context.Context, connID string) (*conndomain.Binding, error)
}

// Result is the outcome of Resolve. Session is nil for anonymous callers.
type Result struct {
	Session *domain.Session
	// IssuedSessionID is set when an authorization code produced a new OAuth session; the
	// transport hands it to the client as the oauth_session_id cookie.
	IssuedSessionID string
	// ClearSessionCookie is set when the presented session id can no longer be used.
	ClearSessionCookie bool
}

// Resolver turns credentials into a Session, provisioning users on first sign-in.
type Resolver struct {
	providers map[domain.Provider]provider.Client
	sessions  SessionRepo
	bindings  BindingRepo
	store     repository.Store
	log       zerolog.Logger
	tracer    trace.Tracer
	newID     func() string
	refreshes singleflight.Group
}

// NewResolver returns a Resolver. Providers that are not passed are treated as unknown.
func NewResolver(store repository.Store, sessions SessionRepo, bindings BindingRepo, log zerolog.Logger, clients ...provider.Client) *Resolver {
	providers := make(map[domain.Provider]provider.Client, len(clients))
	for _, c := range clients {
		providers[c.Provider()] = c
	}
	return &Resolver{
		providers: providers,
		sessions:  sessions,
		bindings:  bindings,
		store:     store,
		log:       log.With().Str("component", "identity").Logger(),
		tracer:    otel.Tracer("github.com/svenmapprio/menuet/internal/identity"),
		newID:     uuid.NewString,
	}
}

// Resolve tries the durable session, then the authorization code, then the connection binding.
// It never fails: every error is logged and the next path is tried; the result of total failure
// is an anonymous Result.
func (r *Resolver) Resolve(ctx context.Context, creds domain.Credentials) *Result {
	ctx, span := r.tracer.Start(ctx, "identity.Resolve")
	defer span.End()

	res := &Result{}
	if creds.SessionID != "" {
		s, drop, err := r.fromOAuthSession(ctx, creds.SessionID)
		if err != nil {
			r.log.Debug().Err(err).Str("session", security.Fingerprint(creds.SessionID)).Msg("durable session path failed")
		}
		res.ClearSessionCookie = drop
		if s != nil {
			res.Session = s
			span.SetAttributes(attribute.String("identity.path", "session"))
			return res
		}
	}
	if creds.Authorization != "" {
		s, issued, err := r.fromAuthorizationCode(ctx, creds.Authorization)
		if err != nil {
			r.log.Debug().Err(err).Msg("authorization code path failed")
		}
		if issued != "" {
			res.IssuedSessionID = issued
			res.ClearSessionCookie = false
		}
		if s != nil {
			res.Session = s
			span.SetAttributes(attribute.String("identity.path", "code"))
			return res
		}
	}
	if creds.ConnectionID != "" {
		s, err := r.ResolveConnection(ctx, creds.ConnectionID)
		if err != nil {
			r.log.Debug().Err(err).Msg("connection path failed")
		}
		if s != nil {
			res.Session = s
			span.SetAttributes(attribute.String("identity.path", "connection"))
			return res
		}
	}
	span.SetAttributes(attribute.String("identity.path", "anonymous"))
	return res
}

// ResolveConnection returns the session of the user bound to connID, or nil when unbound.
func (r *Resolver) ResolveConnection(ctx context.Context, connID string) (*domain.Session, error) {
	b, err := r.bindings.Get(ctx, connID)
	if err != nil || b == nil {
		return nil, err
	}
	return r.store.SessionByUserID(ctx, b.UserID)
}

// fromOAuthSession validates the stored access token, refreshing and rotating the pair when it
// no longer verifies. drop reports that the cookie should be dropped.
func (r *Resolver) fromOAuthSession(ctx context.Context, id string) (s *domain.Session, drop bool, err error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, true, ErrSessionNotFound
	}
	stored, err := r.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, true, ErrSessionNotFound
	}
	client, ok := r.providers[domain.Provider(stored.Provider)]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownProvider, stored.Provider)
	}

	ident, err := client.Verify(ctx, stored.AccessToken)
	if err != nil {
		ident, err = r.sharedRefresh(ctx, client, stored)
		if errors.Is(err, errRefreshFailed) || errors.Is(err, sessiondomain.ErrStaleRefreshToken) {
			ident, err = r.rotatedElsewhere(ctx, client, stored, err)
		}
		if errors.Is(err, errRefreshFailed) {
			return nil, true, err
		}
		if err != nil {
			return nil, false, err
		}
	}
	s, err = r.provision(ctx, ident)
	return s, false, err
}

// sharedRefresh collapses concurrent refreshes of the same stored pair in this process into one.
func (r *Resolver) sharedRefresh(ctx context.Context, client provider.Client, stored *sessiondomain.OAuthSession) (*domain.ExternalIdentity, error) {
	v, err, _ := r.refreshes.Do(stored.ID+"\x00"+stored.RefreshToken, func() (any, error) {
		return r.refresh(ctx, client, stored)
	})
	if err != nil {
		return nil, err
	}
	ident := *v.(*domain.ExternalIdentity)
	return &ident, nil
}

// rotatedElsewhere re-reads the row after a refresh lost a race. If the pair was rotated since
// stored was loaded, the winner's tokens are used; otherwise cause stands.
func (r *Resolver) rotatedElsewhere(ctx context.Context, client provider.Client, stored *sessiondomain.OAuthSession, cause error) (*domain.ExternalIdentity, error) {
	current, err := r.sessions.GetByID(ctx, stored.ID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.RefreshToken == stored.RefreshToken {
		return nil, cause
	}
	r.log.Debug().Str("session", security.Fingerprint(stored.ID)).Msg("oauth session rotated concurrently")

	ident, err := client.Verify(ctx, current.AccessToken)
	if errors.Is(err, provider.ErrVerifyUnsupported) {
		return r.refresh(ctx, client, current)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRefreshFailed, err)
	}
	return ident, nil
}

// refresh rotates the stored pair and verifies once more with the new access token.
func (r *Resolver) refresh(ctx context.Context, client provider.Client, stored *sessiondomain.OAuthSession) (*domain.ExternalIdentity, error) {
	tokens, refreshed, err := client.Refresh(ctx, stored.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRefreshFailed, err)
	}
	newRefresh := tokens.RefreshToken
	if newRefresh == "" {
		newRefresh = stored.RefreshToken
	}
	if err := r.sessions.RotateTokens(ctx, stored.ID, stored.RefreshToken, tokens.AccessToken, newRefresh); err != nil {
		return nil, err
	}
	r.log.Debug().Str("session", security.Fingerprint(stored.ID)).Str("provider", stored.Provider).Msg("rotated oauth session tokens")

	ident, err := client.Verify(ctx, tokens.AccessToken)
	if errors.Is(err, provider.ErrVerifyUnsupported) && refreshed != nil {
		return refreshed, nil
	}
	return ident, err
}

// fromAuthorizationCode redeems "Bearer <provider><code>" and stores the new OAuth session.
func (r *Resolver) fromAuthorizationCode(ctx context.Context, header string) (*domain.Session, string, error) {
	tagged, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, "", ErrMalformedBearer
	}
	p, code, ok := domain.ParseTaggedCredential(strings.TrimSpace(tagged))
	if !ok {
		return nil, "", ErrMalformedBearer
	}
	client, ok := r.providers[p]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
	tokens, ident, err := client.Exchange(ctx, code)
	if err != nil {
		return nil, "", err
	}
	stored := &sessiondomain.OAuthSession{
		ID:           r.newID(),
		Provider:     string(p),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}
	if err := r.sessions.Create(ctx, stored); err != nil {
		return nil, "", err
	}
	s, err := r.provision(ctx, ident)
	return s, stored.ID, err
}

// provision looks up the account for ident and creates user and account when it is missing,
// all inside one transaction holding the subject lock.
func (r *Resolver) provision(ctx context.Context, ident *domain.ExternalIdentity) (*domain.Session, error) {
	if ident == nil || ident.Subject == "" {
		return nil, ErrEmptyIdentity
	}
	var out *domain.Session
	err := r.store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.LockSubject(ctx, ident.Provider, ident.Subject); err != nil {
			return err
		}
		existing, err := tx.SessionBySubject(ctx, ident.Provider, ident.Subject)
		if err != nil {
			return err
		}
		if existing != nil {
			out = existing
			return nil
		}

		base := userdomain.BaseHandle(ident.Profile.FirstName, ident.Profile.LastName)
		n, err := tx.CountHandles(ctx, base)
		if err != nil {
			return err
		}
		u := &userdomain.User{
			Handle:    userdomain.NextHandle(base, n),
			FirstName: ident.Profile.FirstName,
			LastName:  ident.Profile.LastName,
			Picture:   ident.Profile.Picture,
		}
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		if err := tx.CreateAccount(ctx, &domain.Account{
			Provider: ident.Provider,
			Subject:  ident.Subject,
			UserID:   u.ID,
			Email:    ident.Profile.Email,
		}); err != nil {
			return err
		}
		r.log.Info().Int64("user_id", u.ID).Str("handle", u.Handle).Str("provider", string(ident.Provider)).Msg("provisioned user")
		out, err = tx.SessionBySubject(ctx, ident.Provider, ident.Subject)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	return out, nil
}
