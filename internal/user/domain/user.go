package domain

import (
	"errors"
	"strings"
	"time"
)

// User is the core user entity.
type User struct {
	ID        int64
	Handle    string
	FirstName string
	LastName  string
	Picture   string
	CreatedAt time.Time
}

// Name is the display name built from first and last name.
func (u *User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.Handle == "" {
		return errors.New("handle is required")
	}
	return nil
}

// ListItem is one row of a user search as seen by the caller. Self is true when the caller lists
// the user as a friend, Other when the user lists the caller.
type ListItem struct {
	ID     int64  `json:"id"`
	Handle string `json:"handle"`
	Self   bool   `json:"self"`
	Other  bool   `json:"other"`
}
