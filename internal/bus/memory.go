package bus

import (
	"context"
	"sync"
)

// MemoryCluster connects MemoryTransports in one process. It stands in for the shared store in
// tests and single-node development.
type MemoryCluster struct {
	mu    sync.RWMutex
	nodes map[*MemoryTransport]func([]byte)
}

// NewMemoryCluster returns an empty cluster.
func NewMemoryCluster() *MemoryCluster {
	return &MemoryCluster{nodes: make(map[*MemoryTransport]func([]byte))}
}

// Transport returns a new node attached to the cluster once its Listen runs.
func (c *MemoryCluster) Transport() *MemoryTransport {
	return &MemoryTransport{cluster: c, fail: make(chan error, 1), refuse: make(chan error, 1)}
}

func (c *MemoryCluster) broadcast(msg []byte) {
	c.mu.RLock()
	deliver := make([]func([]byte), 0, len(c.nodes))
	for _, d := range c.nodes {
		deliver = append(deliver, d)
	}
	c.mu.RUnlock()

	for _, d := range deliver {
		cp := make([]byte, len(msg))
		copy(cp, msg)
		d(cp)
	}
}

// MemoryTransport is one process's view of a MemoryCluster. Delivery is synchronous.
type MemoryTransport struct {
	cluster *MemoryCluster
	fail    chan error
	refuse  chan error
}

func (t *MemoryTransport) Publish(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.cluster.broadcast(msg)
	return nil
}

func (t *MemoryTransport) Listen(ctx context.Context, ready func(), deliver func([]byte)) error {
	select {
	case err := <-t.refuse:
		return err
	default:
	}
	t.cluster.mu.Lock()
	t.cluster.nodes[t] = deliver
	t.cluster.mu.Unlock()
	defer func() {
		t.cluster.mu.Lock()
		delete(t.cluster.nodes, t)
		t.cluster.mu.Unlock()
	}()

	ready()
	select {
	case <-ctx.Done():
		return nil
	case err := <-t.fail:
		return err
	}
}

// Fail detaches the listener with err, simulating a lost connection to the store.
func (t *MemoryTransport) Fail(err error) {
	select {
	case t.fail <- err:
	default:
	}
}

// RefuseListen makes the next Listen fail with err before attaching, as an unreachable store does.
func (t *MemoryTransport) RefuseListen(err error) {
	select {
	case t.refuse <- err:
	default:
	}
}
