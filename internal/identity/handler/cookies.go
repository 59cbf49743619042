// Package handler carries identity credentials over HTTP: it reads them from requests and writes
// the session cookies a resolution produced.
package handler

import (
	"net/http"
	"time"

	"github.com/svenmapprio/menuet/internal/identity/domain"
	"github.com/svenmapprio/menuet/internal/identity/service"
)

// Cookie names shared with the web client.
const (
	SessionCookie    = "oauth_session_id"
	ConnectionCookie = "socketId"
)

// connectionCookieTTL bounds the socketId cookie; the client refreshes it on every handshake.
const connectionCookieTTL = 12 * time.Hour

// CredentialsFromRequest collects the session cookie, the Authorization header and the
// connection cookie from r.
func CredentialsFromRequest(r *http.Request) domain.Credentials {
	var creds domain.Credentials
	if c, err := r.Cookie(SessionCookie); err == nil {
		creds.SessionID = c.Value
	}
	creds.Authorization = r.Header.Get("Authorization")
	if c, err := r.Cookie(ConnectionCookie); err == nil {
		creds.ConnectionID = c.Value
	}
	return creds
}

// Cookies writes session cookies. Secure is off only for local development over plain HTTP.
type Cookies struct {
	SessionTTL time.Duration
	Secure     bool
}

// Apply writes Set-Cookie headers for a newly issued or unusable session id. It must run before
// the response header is written.
func (c Cookies) Apply(w http.ResponseWriter, res *service.Result) {
	switch {
	case res.IssuedSessionID != "":
		c.SetSession(w, res.IssuedSessionID)
	case res.ClearSessionCookie:
		c.ClearSession(w)
	}
}

func (c Cookies) SetSession(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		Expires:  time.Now().Add(c.SessionTTL),
		MaxAge:   int(c.SessionTTL.Seconds()),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c Cookies) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// SetConnection writes the socketId cookie. It stays readable by scripts so the client can
// attach it to stateless requests.
func (c Cookies) SetConnection(w http.ResponseWriter, connID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     ConnectionCookie,
		Value:    connID,
		Path:     "/",
		MaxAge:   int(connectionCookieTTL.Seconds()),
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
