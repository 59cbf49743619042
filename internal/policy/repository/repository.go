package repository

import (
	"context"

	"github.com/svenmapprio/menuet/internal/policy/domain"
)

// Repository defines persistence for guard policies.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Policy, error)
	ListEnabled(ctx context.Context) ([]*domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
	Update(ctx context.Context, p *domain.Policy) error
}
