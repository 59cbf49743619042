package domain

import (
	"errors"
	"time"
)

// ErrStaleRefreshToken is returned by a rotation whose expected refresh token no longer matches,
// meaning another request rotated the pair first.
var ErrStaleRefreshToken = errors.New("oauth session: refresh token already rotated")

// OAuthSession is the durable record behind the oauth_session_id cookie: the provider's token
// pair for one sign-in. Access and refresh tokens always change together.
type OAuthSession struct {
	ID           string
	Provider     string
	AccessToken  string
	RefreshToken string
	CreatedAt    time.Time
	RefreshedAt  *time.Time // nil until the first rotation
}
