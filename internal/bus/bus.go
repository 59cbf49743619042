// Package bus fans events out to every gateway process. Delivery is best-effort: an envelope
// published while a process is not attached is lost for that process, and there is no ordering
// across groups.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/db"
	"github.com/svenmapprio/menuet/internal/metrics"
)

// Transport moves encoded envelopes between processes.
type Transport interface {
	// Publish hands msg to every attached listener, including the caller's own.
	Publish(ctx context.Context, msg []byte) error
	// Listen blocks while attached, calling ready once the listener is live and deliver for each
	// message. It returns nil when ctx is cancelled and an error when the listener is lost.
	Listen(ctx context.Context, ready func(), deliver func(msg []byte)) error
}

// TxPublisher is implemented by transports that can publish as part of a database transaction;
// the notification is delivered only if the transaction commits.
type TxPublisher interface {
	PublishTx(ctx context.Context, tx db.DBTX, msg []byte) error
}

// Handler receives every envelope delivered to this process.
type Handler interface {
	HandleEnvelope(ctx context.Context, env Envelope)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env Envelope)

func (f HandlerFunc) HandleEnvelope(ctx context.Context, env Envelope) { f(ctx, env) }

// Publisher is the publishing half of Bus, accepted by packages that only emit.
type Publisher interface {
	Publish(ctx context.Context, group, event string, payload any) error
	Broadcast(ctx context.Context, event string, payload any) error
	PublishGlobal(ctx context.Context, event string, payload any) error
}

// Bus attaches one Transport to the local handlers.
type Bus struct {
	transport Transport
	origin    string
	log       zerolog.Logger

	mu       sync.RWMutex
	handlers []Handler
	onFatal  func(error)

	attached atomic.Bool

	runMu     sync.Mutex
	running   bool
	attachErr error
}

// New returns a Bus over t. A lost listener is fatal: by default the process logs and exits so
// the orchestrator restarts it into a clean state.
func New(t Transport, log zerolog.Logger) *Bus {
	b := &Bus{
		transport: t,
		origin:    uuid.NewString(),
		log:       log,
	}
	b.onFatal = func(err error) {
		b.log.Fatal().Err(err).Msg("bus: listener lost, exiting")
	}
	return b
}

// Origin identifies this process on the wire.
func (b *Bus) Origin() string { return b.origin }

// OnFatal replaces the fatal-error hook. Tests use it to observe failures without exiting.
func (b *Bus) OnFatal(fn func(error)) {
	b.mu.Lock()
	b.onFatal = fn
	b.mu.Unlock()
}

// Subscribe registers h for every envelope received after the call.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Attached reports whether the transport listener is live.
func (b *Bus) Attached() bool { return b.attached.Load() }

// Publish delivers event to every connection in group on every process.
func (b *Bus) Publish(ctx context.Context, group, event string, payload any) error {
	if group == "" {
		return errors.New("bus: group is required")
	}
	return b.publish(ctx, nil, KindGroup, group, event, payload)
}

// Broadcast delivers event to every connection on every process.
func (b *Bus) Broadcast(ctx context.Context, event string, payload any) error {
	return b.publish(ctx, nil, KindBroadcast, "", event, payload)
}

// PublishGlobal delivers a server-side event to every process (not to clients).
func (b *Bus) PublishGlobal(ctx context.Context, event string, payload any) error {
	return b.publish(ctx, nil, KindGlobal, "", event, payload)
}

// PublishTx is Publish bound to tx. Transports without transactional publishing send immediately.
func (b *Bus) PublishTx(ctx context.Context, tx db.DBTX, group, event string, payload any) error {
	if group == "" {
		return errors.New("bus: group is required")
	}
	return b.publish(ctx, tx, KindGroup, group, event, payload)
}

// BroadcastTx is Broadcast bound to tx.
func (b *Bus) BroadcastTx(ctx context.Context, tx db.DBTX, event string, payload any) error {
	return b.publish(ctx, tx, KindBroadcast, "", event, payload)
}

func (b *Bus) publish(ctx context.Context, tx db.DBTX, kind Kind, group, event string, payload any) error {
	if event == "" {
		return errors.New("bus: event is required")
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Envelope{
		ID:      uuid.NewString(),
		Origin:  b.origin,
		Kind:    kind,
		Group:   group,
		Event:   event,
		Payload: raw,
	})
	if err != nil {
		return err
	}

	if tp, ok := b.transport.(TxPublisher); ok && tx != nil {
		err = tp.PublishTx(ctx, tx, msg)
	} else {
		err = b.transport.Publish(ctx, msg)
	}
	if err != nil {
		return err
	}
	metrics.BusPublished.WithLabelValues(string(kind)).Inc()
	return nil
}

// ErrNotAttached wraps listener errors that happened before the listener ever went live. They
// are connectivity failures and never run the fatal hook.
var ErrNotAttached = errors.New("bus: listener not attached")

// Run attaches to the transport and dispatches envelopes until ctx is cancelled. If the listener
// is lost after attaching, the fatal hook runs and the error is returned. A failed attach returns
// an error wrapping ErrNotAttached.
func (b *Bus) Run(ctx context.Context) error {
	b.runMu.Lock()
	b.running = true
	b.runMu.Unlock()
	return b.run(ctx)
}

// Start runs the listener in the background unless it is already running. It returns the error
// of the previous attempt if that attempt ended before attaching. A fresh listener is launched
// either way, so callers retry Start until Attached reports true.
func (b *Bus) Start(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.running {
		return nil
	}
	prev := b.attachErr
	b.attachErr = nil
	b.running = true
	go func() { _ = b.run(ctx) }()
	return prev
}

func (b *Bus) run(ctx context.Context) (err error) {
	defer func() {
		b.runMu.Lock()
		b.running = false
		if errors.Is(err, ErrNotAttached) {
			b.attachErr = err
		}
		b.runMu.Unlock()
	}()

	var wasAttached atomic.Bool
	ready := func() {
		wasAttached.Store(true)
		b.attached.Store(true)
		b.log.Info().Str("origin", b.origin).Msg("bus: attached")
	}
	err = b.transport.Listen(ctx, ready, func(msg []byte) { b.deliver(ctx, msg) })
	b.attached.Store(false)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	if !wasAttached.Load() {
		return fmt.Errorf("%w: %w", ErrNotAttached, err)
	}

	b.mu.RLock()
	fatal := b.onFatal
	b.mu.RUnlock()
	if fatal != nil {
		fatal(err)
	}
	return err
}

func (b *Bus) deliver(ctx context.Context, msg []byte) {
	env, err := decodeEnvelope(msg)
	if err != nil {
		b.log.Warn().Err(err).Msg("bus: dropping undecodable message")
		return
	}
	metrics.BusReceived.WithLabelValues(string(env.Kind)).Inc()

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h.HandleEnvelope(ctx, env)
	}
}
