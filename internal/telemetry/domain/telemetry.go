package domain

import "time"

// Event types emitted by the gateway and the resolver.
const (
	EventConnectionOpened = "connection_opened"
	EventConnectionBound  = "connection_bound"
	EventConnectionClosed = "connection_closed"
	EventQueryRateLimited = "query_rate_limited"
)

// Event is one connection lifecycle event. UserID is zero for anonymous connections.
type Event struct {
	Type         string
	ConnectionID string
	UserID       int64
	Source       string
	Metadata     []byte // JSON, optional
	CreatedAt    time.Time
}
