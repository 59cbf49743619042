package repository

import (
	"context"

	"github.com/svenmapprio/menuet/internal/connection/domain"
)

// Registry persists connection bindings so stateless requests carrying a connection id can find
// the user behind it.
type Registry interface {
	// Get returns the binding for connID, or nil if none exists.
	Get(ctx context.Context, connID string) (*domain.Binding, error)
	// Set binds connID to userID, replacing any previous binding.
	Set(ctx context.Context, connID string, userID int64) error
	// Remove deletes the binding for connID. Removing a missing binding is not an error.
	Remove(ctx context.Context, connID string) error
}
