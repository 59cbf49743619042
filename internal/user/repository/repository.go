package repository

import (
	"context"

	"github.com/svenmapprio/menuet/internal/user/domain"
)

// Repository defines persistence for users and friendships.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	UpdateProfile(ctx context.Context, u *domain.User) error
	// CountHandles counts users whose handle is base or base followed by digits.
	CountHandles(ctx context.Context, base string) (int, error)
	// Search lists users whose handle contains term, as seen by viewerID (0 for anonymous).
	// The viewer is excluded from the result.
	Search(ctx context.Context, viewerID int64, term string) ([]domain.ListItem, error)
	AddFriend(ctx context.Context, userID, friendID int64) error
	RemoveFriend(ctx context.Context, userID, friendID int64) error
}
