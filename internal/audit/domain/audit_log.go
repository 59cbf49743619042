package domain

import "time"

// AuditLog represents one audited API mutation. UserID is 0 for anonymous callers.
type AuditLog struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
