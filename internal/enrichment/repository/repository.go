package repository

import (
	"context"
	"time"

	"github.com/svenmapprio/menuet/internal/enrichment/domain"
)

// Queue is the worker's view of enrichment_tasks.
type Queue interface {
	// Claim leases the oldest runnable task for lease, or returns nil when none is due.
	Claim(ctx context.Context, lease time.Duration) (*domain.Task, error)
	// Complete finishes t and marks its place done.
	Complete(ctx context.Context, t *domain.Task) error
	// Fail records a failed run. Once attempts reach the maximum the task is terminal and the
	// place is marked generation_failed; otherwise it is rescheduled after retryIn.
	Fail(ctx context.Context, t *domain.Task, cause string, retryIn time.Duration) (terminal bool, err error)
}
