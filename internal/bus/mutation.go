package bus

import (
	"context"
	"encoding/json"

	"github.com/svenmapprio/menuet/internal/db"
)

// EventMutation tells clients to invalidate a cached resource.
const EventMutation = "mutation"

// MutationKey names a cached resource: either a bare string ("users") or an ordered tuple
// (["chat", 42]). It marshals exactly as given.
type MutationKey struct {
	parts []any
	tuple bool
}

// Key builds a MutationKey. Key("users") marshals as "users"; Key("chat", 42) as ["chat",42].
func Key(name string, args ...any) MutationKey {
	return MutationKey{parts: append([]any{name}, args...)}
}

// Tuple builds a MutationKey that always marshals as an array, so Tuple("users") is ["users"].
func Tuple(parts ...any) MutationKey {
	return MutationKey{parts: parts, tuple: true}
}

func (k MutationKey) MarshalJSON() ([]byte, error) {
	if k.tuple {
		if k.parts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(k.parts)
	}
	if len(k.parts) == 1 {
		return json.Marshal(k.parts[0])
	}
	return json.Marshal(k.parts)
}

// Mutation publishes a cache invalidation for key to group.
func Mutation(ctx context.Context, p Publisher, group string, key MutationKey) error {
	return p.Publish(ctx, group, EventMutation, key)
}

// BroadcastMutation publishes a cache invalidation for key to every connection.
func BroadcastMutation(ctx context.Context, p Publisher, key MutationKey) error {
	return p.Broadcast(ctx, EventMutation, key)
}

// GroupTxPublisher publishes on a caller's transaction; *Bus implements it.
type GroupTxPublisher interface {
	PublishTx(ctx context.Context, tx db.DBTX, group, event string, payload any) error
}

// MutationTx publishes a cache invalidation that is delivered only if tx commits.
func MutationTx(ctx context.Context, p GroupTxPublisher, tx db.DBTX, group string, key MutationKey) error {
	return p.PublishTx(ctx, tx, group, EventMutation, key)
}
