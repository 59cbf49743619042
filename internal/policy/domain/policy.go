package domain

import "time"

// Policy is an operator-supplied Rego module adding deny rules to package menuet.guards.
type Policy struct {
	ID        string
	Name      string
	Rules     string
	Enabled   bool
	CreatedAt time.Time
}
