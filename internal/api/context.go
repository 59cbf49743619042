package api

import (
	"context"

	identitydomain "github.com/svenmapprio/menuet/internal/identity/domain"
)

type sessionKey struct{}

// WithSession returns a context carrying the resolved session. s may be nil for anonymous callers.
func WithSession(ctx context.Context, s *identitydomain.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored by WithSession, or nil.
func SessionFromContext(ctx context.Context) *identitydomain.Session {
	s, _ := ctx.Value(sessionKey{}).(*identitydomain.Session)
	return s
}

// viewerID is the caller's user id, or 0 when anonymous.
func viewerID(ctx context.Context) int64 {
	if s := SessionFromContext(ctx); s != nil {
		return s.User.ID
	}
	return 0
}
