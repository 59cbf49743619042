package repository

import (
	"context"
	"sync"
	"time"

	"github.com/svenmapprio/menuet/internal/connection/domain"
)

// MemoryRegistry keeps bindings in process memory. Used by tests and single-node development.
type MemoryRegistry struct {
	mu       sync.Mutex
	bindings map[string]domain.Binding
	now      func() time.Time
}

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{bindings: make(map[string]domain.Binding), now: time.Now}
}

func (r *MemoryRegistry) Get(_ context.Context, connID string) (*domain.Binding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[connID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *MemoryRegistry) Set(_ context.Context, connID string, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[connID] = domain.Binding{ConnectionID: connID, UserID: userID, CreatedAt: r.now()}
	return nil
}

func (r *MemoryRegistry) Remove(_ context.Context, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, connID)
	return nil
}

// Len returns the number of bindings.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}
