package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/svenmapprio/menuet/internal/metrics"
)

// recentQueries is how many query ids a connection remembers for replay detection.
const recentQueries = 256

// Connection is one live websocket held by this process.
type Connection struct {
	ID string

	send    chan []byte
	limiter *rate.Limiter
	done    chan struct{}
	once    sync.Once

	// groups is guarded by the owning Hub's lock.
	groups map[string]struct{}

	mu      sync.Mutex
	userID  int64
	boundAt time.Time
	queries map[string]struct{}
	// order holds the ids in queries oldest first; next is the slot the next id overwrites.
	order [recentQueries]string
	next  int
}

func newConnection(id string, queue int, limit rate.Limit, burst int) *Connection {
	return &Connection{
		ID:      id,
		send:    make(chan []byte, queue),
		limiter: rate.NewLimiter(limit, burst),
		done:    make(chan struct{}),
		groups:  make(map[string]struct{}),
		queries: make(map[string]struct{}, recentQueries),
	}
}

// UserID is the bound user, or 0 for an anonymous connection.
func (c *Connection) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// BoundAt is when the current binding was made.
func (c *Connection) BoundAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundAt
}

func (c *Connection) setUser(userID int64, at time.Time) {
	c.mu.Lock()
	c.userID = userID
	c.boundAt = at
	c.mu.Unlock()
}

// enqueue queues frame without blocking. A full queue drops the frame: a slow client must not
// stall fanout to everyone else.
func (c *Connection) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.FramesDropped.Inc()
		return false
	}
}

// markQuery records queryID and reports whether it is new for this connection. Only the last
// recentQueries ids are remembered.
func (c *Connection) markQuery(queryID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.queries[queryID]; seen {
		return false
	}
	if evicted := c.order[c.next]; evicted != "" {
		delete(c.queries, evicted)
	}
	c.order[c.next] = queryID
	c.next = (c.next + 1) % recentQueries
	c.queries[queryID] = struct{}{}
	return true
}

func (c *Connection) allow() bool {
	return c.limiter.Allow()
}

func (c *Connection) close() {
	c.once.Do(func() { close(c.done) })
}
