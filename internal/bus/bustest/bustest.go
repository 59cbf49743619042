// Package bustest runs in-memory buses for tests in other packages.
package bustest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/svenmapprio/menuet/internal/bus"
)

// Recorder collects every envelope delivered to a bus.
type Recorder struct {
	mu   sync.Mutex
	envs []bus.Envelope
}

func (r *Recorder) HandleEnvelope(_ context.Context, env bus.Envelope) {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
}

// Envelopes returns the envelopes received so far.
func (r *Recorder) Envelopes() []bus.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bus.Envelope, len(r.envs))
	copy(out, r.envs)
	return out
}

// Events returns the envelopes named event.
func (r *Recorder) Events(event string) []bus.Envelope {
	var out []bus.Envelope
	for _, env := range r.Envelopes() {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// Start runs a bus attached to cluster until the test ends, with a Recorder subscribed. handlers
// are subscribed before the bus attaches.
func Start(t testing.TB, cluster *bus.MemoryCluster, handlers ...bus.Handler) (*bus.Bus, *Recorder) {
	t.Helper()
	b := bus.New(cluster.Transport(), zerolog.Nop())
	b.OnFatal(func(err error) { t.Errorf("unexpected bus failure: %v", err) })
	rec := &Recorder{}
	b.Subscribe(rec)
	for _, h := range handlers {
		b.Subscribe(h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(time.Second)
	for !b.Attached() {
		if time.Now().After(deadline) {
			t.Fatal("bus did not attach")
		}
		time.Sleep(time.Millisecond)
	}
	return b, rec
}
