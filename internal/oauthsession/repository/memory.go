package repository

import (
	"context"
	"sync"
	"time"

	"github.com/svenmapprio/menuet/internal/oauthsession/domain"
)

// MemoryRepository keeps sessions in process memory. Used by tests.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.OAuthSession
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]domain.OAuthSession)}
}

func (r *MemoryRepository) Create(_ context.Context, s *domain.OAuthSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	r.sessions[s.ID] = *s
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.OAuthSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *MemoryRepository) RotateTokens(_ context.Context, id, oldRefresh, newAccess, newRefresh string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.RefreshToken != oldRefresh {
		return domain.ErrStaleRefreshToken
	}
	now := time.Now().UTC()
	s.AccessToken, s.RefreshToken, s.RefreshedAt = newAccess, newRefresh, &now
	r.sessions[id] = s
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}
