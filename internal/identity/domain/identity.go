package domain

import (
	"strings"
	"time"
)

// Provider names an external credential provider.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderApple  Provider = "apple"
)

// Providers lists every supported provider in the order tagged credentials are matched.
var Providers = []Provider{ProviderApple, ProviderGoogle}

// Valid reports whether p is a supported provider.
func (p Provider) Valid() bool {
	return p == ProviderGoogle || p == ProviderApple
}

// ParseTaggedCredential splits a provider-tagged credential such as "googleXYZ" into its
// provider and the remaining value. ok is false when no supported tag prefixes s or the value is empty.
func ParseTaggedCredential(s string) (p Provider, value string, ok bool) {
	for _, p := range Providers {
		if rest, found := strings.CutPrefix(s, string(p)); found && rest != "" {
			return p, rest, true
		}
	}
	return "", "", false
}

// Profile holds the optional name fields a provider reports for a subject.
type Profile struct {
	Email     string
	FirstName string
	LastName  string
	Picture   string
}

// ExternalIdentity is what a provider asserts about the holder of a credential.
type ExternalIdentity struct {
	Provider Provider
	Subject  string
	Profile  Profile
}

// Account links a provider subject to a local user. (provider, subject) is unique.
type Account struct {
	Provider  Provider
	Subject   string
	UserID    int64
	Email     string
	CreatedAt time.Time
}

// Identity is the provider half of a resolved session.
type Identity struct {
	Provider        Provider `json:"provider"`
	ExternalSubject string   `json:"externalSubject"`
}

// SessionUser is the local user half of a resolved session.
type SessionUser struct {
	ID          int64  `json:"id"`
	Handle      string `json:"handle"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	DisplayName string `json:"name"`
}

// Session is the canonical identity resolved for one request or one bound connection.
// It is computed on demand and never stored.
type Session struct {
	Identity Identity    `json:"identity"`
	User     SessionUser `json:"user"`
}

// Credentials is the raw credential material available to the resolver.
type Credentials struct {
	// SessionID is the oauth_session_id cookie value.
	SessionID string
	// Authorization is the Authorization header value, e.g. "Bearer google<code>".
	Authorization string
	// ConnectionID is the socketId cookie, or the id of the connection a query arrived on.
	ConnectionID string
}

// Empty reports whether no credential is present at all.
func (c Credentials) Empty() bool {
	return c.SessionID == "" && c.Authorization == "" && c.ConnectionID == ""
}
