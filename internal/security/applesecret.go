package security

import (
	"crypto/ecdsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppleAudience is the aud claim Apple expects on client secrets.
const AppleAudience = "https://appleid.apple.com"

// maxAppleSecretTTL is the longest lifetime Apple accepts for a client secret.
const maxAppleSecretTTL = 180 * 24 * time.Hour

// AppleSecret signs the short-lived ES256 JWT Apple accepts as client_secret on its token endpoint.
type AppleSecret struct {
	key      *ecdsa.PrivateKey
	teamID   string
	clientID string
	keyID    string
	ttl      time.Duration
	now      func() time.Time
}

// NewAppleSecret returns a signer for the given team, service (client) id and key id.
// ttl is clamped to Apple's maximum; zero means five minutes.
func NewAppleSecret(key *ecdsa.PrivateKey, teamID, clientID, keyID string, ttl time.Duration) *AppleSecret {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if ttl > maxAppleSecretTTL {
		ttl = maxAppleSecretTTL
	}
	return &AppleSecret{key: key, teamID: teamID, clientID: clientID, keyID: keyID, ttl: ttl, now: time.Now}
}

// Sign returns a fresh client secret.
func (a *AppleSecret) Sign() (string, error) {
	if a.key == nil {
		return "", errors.New("security: apple key not configured")
	}
	now := a.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    a.teamID,
		Subject:   a.clientID,
		Audience:  jwt.ClaimStrings{AppleAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = a.keyID
	return t.SignedString(a.key)
}
