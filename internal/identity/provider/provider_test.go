package provider

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/svenmapprio/menuet/internal/identity/domain"
	"github.com/svenmapprio/menuet/internal/security"
)

const (
	testIssuer   = "https://issuer.test"
	testClientID = "client-123"
)

// fakeProvider serves a token endpoint and a tokeninfo endpoint. Refresh tokens are single use.
type fakeProvider struct {
	t        *testing.T
	key      *rsa.PrivateKey
	srv      *httptest.Server
	mu       sync.Mutex
	refresh  map[string]string // refresh token -> subject
	access   map[string]string // access token -> subject
	seq      int
	noRotate bool
	lastForm map[string]string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f := &fakeProvider{t: t, key: key, refresh: map[string]string{}, access: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", f.token)
	mux.HandleFunc("/tokeninfo", f.tokenInfo)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProvider) keySet() oidc.KeySet {
	return &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&f.key.PublicKey}}
}

func (f *fakeProvider) idToken(sub string) string {
	now := time.Now()
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":         testIssuer,
		"aud":         testClientID,
		"sub":         sub,
		"iat":         now.Unix(),
		"exp":         now.Add(time.Hour).Unix(),
		"email":       "alice@example.com",
		"given_name":  "Alice",
		"family_name": "Smith",
	}).SignedString(f.key)
	require.NoError(f.t, err)
	return s
}

func (f *fakeProvider) issue(sub string, rotate bool, oldRefresh string) map[string]any {
	f.seq++
	access := "access-" + strconv.Itoa(f.seq)
	f.access[access] = sub
	out := map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     f.idToken(sub),
	}
	if rotate {
		refresh := "refresh-" + strconv.Itoa(f.seq)
		f.refresh[refresh] = sub
		out["refresh_token"] = refresh
	} else {
		f.refresh[oldRefresh] = sub
	}
	return out
}

func (f *fakeProvider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastForm = map[string]string{}
	for k := range r.PostForm {
		f.lastForm[k] = r.PostForm.Get(k)
	}
	var body map[string]any
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != "good-code" {
			writeOAuthError(w)
			return
		}
		body = f.issue("sub-1", true, "")
	case "refresh_token":
		old := r.PostForm.Get("refresh_token")
		sub, ok := f.refresh[old]
		if !ok {
			writeOAuthError(w)
			return
		}
		delete(f.refresh, old)
		body = f.issue(sub, !f.noRotate, old)
	default:
		writeOAuthError(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeProvider) tokenInfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	sub, ok := f.access[r.URL.Query().Get("access_token")]
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_token", "error_description": "Invalid Value"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"sub": sub, "aud": testClientID, "email": "alice@example.com"})
}

func writeOAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
}

func newTestGoogle(f *fakeProvider) *Google {
	return NewGoogle(GoogleConfig{
		ClientID:     testClientID,
		ClientSecret: "shh",
		TokenURL:     f.srv.URL + "/token",
		TokenInfoURL: f.srv.URL + "/tokeninfo",
		Issuer:       testIssuer,
		KeySet:       f.keySet(),
		HTTPClient:   f.srv.Client(),
	})
}

func TestGoogle_ExchangeVerifyRefresh(t *testing.T) {
	f := newFakeProvider(t)
	g := newTestGoogle(f)
	ctx := context.Background()

	tokens, ident, err := g.Exchange(ctx, "good-code")
	require.NoError(t, err)
	require.Equal(t, domain.ProviderGoogle, ident.Provider)
	require.Equal(t, "sub-1", ident.Subject)
	require.Equal(t, "Alice", ident.Profile.FirstName)
	require.Equal(t, "Smith", ident.Profile.LastName)
	require.NotEmpty(t, tokens.RefreshToken)

	verified, err := g.Verify(ctx, tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "sub-1", verified.Subject)

	_, err = g.Verify(ctx, "bogus")
	require.Error(t, err)

	next, refreshed, err := g.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	require.Equal(t, "sub-1", refreshed.Subject)
	require.NotEqual(t, tokens.RefreshToken, next.RefreshToken)
	require.NotEqual(t, tokens.AccessToken, next.AccessToken)

	// The replaced refresh token is single use.
	_, _, err = g.Refresh(ctx, tokens.RefreshToken)
	require.Error(t, err)
}

func TestGoogle_ExchangeBadCode(t *testing.T) {
	f := newFakeProvider(t)
	_, _, err := newTestGoogle(f).Exchange(context.Background(), "bad-code")
	require.Error(t, err)
}

func TestGoogle_RejectsForeignIssuer(t *testing.T) {
	f := newFakeProvider(t)
	g := NewGoogle(GoogleConfig{
		ClientID:   testClientID,
		TokenURL:   f.srv.URL + "/token",
		Issuer:     "https://someone-else.test",
		KeySet:     f.keySet(),
		HTTPClient: f.srv.Client(),
	})
	_, _, err := g.Exchange(context.Background(), "good-code")
	require.Error(t, err)
}

func TestApple_ExchangeRefresh(t *testing.T) {
	f := newFakeProvider(t)
	f.noRotate = true
	appleKey, _, err := security.NewTestAppleKey()
	require.NoError(t, err)

	a := NewApple(AppleConfig{
		ClientID:   testClientID,
		Secret:     security.NewAppleSecret(appleKey, "TEAM", testClientID, "KEY", time.Minute),
		TokenURL:   f.srv.URL + "/token",
		Issuer:     testIssuer,
		KeySet:     f.keySet(),
		HTTPClient: f.srv.Client(),
	})
	require.Equal(t, domain.ProviderApple, a.Provider())
	ctx := context.Background()

	tokens, ident, err := a.Exchange(ctx, "good-code")
	require.NoError(t, err)
	require.Equal(t, domain.ProviderApple, ident.Provider)
	require.Equal(t, "sub-1", ident.Subject)

	f.mu.Lock()
	secret := f.lastForm["client_secret"]
	f.mu.Unlock()
	parsed, err := jwt.Parse(secret, func(*jwt.Token) (any, error) { return appleKey.Public().(*ecdsa.PublicKey), nil },
		jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.Equal(t, "KEY", parsed.Header["kid"])

	_, err = a.Verify(ctx, tokens.AccessToken)
	require.True(t, errors.Is(err, ErrVerifyUnsupported))

	// Apple keeps the refresh token; the old one stays valid.
	next, refreshed, err := a.Refresh(ctx, tokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, tokens.RefreshToken, next.RefreshToken)
	require.Equal(t, "sub-1", refreshed.Subject)
}

func TestRefresh_EmptyToken(t *testing.T) {
	f := newFakeProvider(t)
	_, _, err := newTestGoogle(f).Refresh(context.Background(), "")
	require.Error(t, err)
}
