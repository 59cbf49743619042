package domain

import "time"

// Binding is the durable record that a connection belongs to a user. At most one binding exists
// per connection id; binding again replaces it.
type Binding struct {
	ConnectionID string
	UserID       int64
	CreatedAt    time.Time
}
