package provider

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/svenmapprio/menuet/internal/identity/domain"
)

// Fake is an in-memory Client with single-use codes and refresh tokens. For tests only.
type Fake struct {
	p                 domain.Provider
	verifyUnsupported bool

	mu      sync.Mutex
	seq     int
	codes   map[string]domain.ExternalIdentity
	access  map[string]domain.ExternalIdentity
	refresh map[string]domain.ExternalIdentity
	calls   map[string]int
}

// NewFake returns a fake for p. Apple fakes report ErrVerifyUnsupported like the real client.
func NewFake(p domain.Provider) *Fake {
	return &Fake{
		p:                 p,
		verifyUnsupported: p == domain.ProviderApple,
		codes:             map[string]domain.ExternalIdentity{},
		access:            map[string]domain.ExternalIdentity{},
		refresh:           map[string]domain.ExternalIdentity{},
		calls:             map[string]int{},
	}
}

// AddCode registers a one-time authorization code for subject.
func (f *Fake) AddCode(code, subject string, profile domain.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[code] = domain.ExternalIdentity{Provider: f.p, Subject: subject, Profile: profile}
}

// ExpireAccess makes an issued access token fail verification.
func (f *Fake) ExpireAccess(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.access, token)
}

// RevokeRefresh makes a refresh token unusable.
func (f *Fake) RevokeRefresh(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, token)
}

// Calls returns how often method ("exchange", "refresh", "verify") was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) issue(ident domain.ExternalIdentity) *Tokens {
	f.seq++
	n := strconv.Itoa(f.seq)
	t := &Tokens{AccessToken: string(f.p) + "-access-" + n, RefreshToken: string(f.p) + "-refresh-" + n}
	f.access[t.AccessToken] = ident
	f.refresh[t.RefreshToken] = ident
	return t
}

func (f *Fake) Provider() domain.Provider { return f.p }

func (f *Fake) Exchange(_ context.Context, code string) (*Tokens, *domain.ExternalIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["exchange"]++
	ident, ok := f.codes[code]
	if !ok {
		return nil, nil, errors.New("fake: invalid_grant")
	}
	delete(f.codes, code)
	return f.issue(ident), &ident, nil
}

func (f *Fake) Refresh(_ context.Context, refreshToken string) (*Tokens, *domain.ExternalIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["refresh"]++
	ident, ok := f.refresh[refreshToken]
	if !ok {
		return nil, nil, errors.New("fake: invalid_grant")
	}
	delete(f.refresh, refreshToken)
	return f.issue(ident), &ident, nil
}

func (f *Fake) Verify(_ context.Context, accessToken string) (*domain.ExternalIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["verify"]++
	if f.verifyUnsupported {
		return nil, ErrVerifyUnsupported
	}
	ident, ok := f.access[accessToken]
	if !ok {
		return nil, errors.New("fake: invalid_token")
	}
	return &ident, nil
}
