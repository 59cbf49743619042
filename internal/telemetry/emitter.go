// Package telemetry emits connection lifecycle events. Emission is best-effort and never blocks
// or fails the caller's work.
package telemetry

import (
	"context"

	"github.com/svenmapprio/menuet/internal/telemetry/domain"
)

// EventEmitter emits telemetry events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}
