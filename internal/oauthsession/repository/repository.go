package repository

import (
	"context"

	"github.com/svenmapprio/menuet/internal/oauthsession/domain"
)

// Repository defines persistence for OAuth sessions.
type Repository interface {
	// Create persists s. The session must have ID set.
	Create(ctx context.Context, s *domain.OAuthSession) error
	// GetByID returns the session, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.OAuthSession, error)
	// RotateTokens replaces both tokens only if the stored refresh token still equals oldRefresh.
	// Returns domain.ErrStaleRefreshToken otherwise.
	RotateTokens(ctx context.Context, id, oldRefresh, newAccess, newRefresh string) error
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
}
