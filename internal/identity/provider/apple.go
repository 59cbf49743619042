package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/svenmapprio/menuet/internal/identity/domain"
	"github.com/svenmapprio/menuet/internal/security"
)

// Apple endpoints.
const (
	AppleAuthURL  = "https://appleid.apple.com/auth/authorize"
	AppleTokenURL = "https://appleid.apple.com/auth/token"
	AppleIssuer   = "https://appleid.apple.com"
	AppleJWKSURL  = "https://appleid.apple.com/auth/keys"
)

// AppleConfig configures the Apple client. Secret signs the client_secret for every token call.
type AppleConfig struct {
	ClientID    string
	RedirectURL string
	Secret      *security.AppleSecret
	TokenURL    string
	Issuer      string
	KeySet      oidc.KeySet
	HTTPClient  *http.Client
}

// Apple implements Client for Sign in with Apple. Apple has no token introspection endpoint, so
// Verify always reports ErrVerifyUnsupported and sessions are re-established through Refresh.
type Apple struct {
	cfg      AppleConfig
	verifier *oidc.IDTokenVerifier
}

// NewApple returns an Apple client.
func NewApple(cfg AppleConfig) *Apple {
	if cfg.TokenURL == "" {
		cfg.TokenURL = AppleTokenURL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = AppleIssuer
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	keySet := cfg.KeySet
	if keySet == nil {
		keySet = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), cfg.HTTPClient), AppleJWKSURL)
	}
	return &Apple{
		cfg:      cfg,
		verifier: oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{ClientID: cfg.ClientID}),
	}
}

func (a *Apple) Provider() domain.Provider { return domain.ProviderApple }

// oauthConfig builds a config with a freshly signed client secret.
func (a *Apple) oauthConfig() (*oauth2.Config, error) {
	secret, err := a.cfg.Secret.Sign()
	if err != nil {
		return nil, fmt.Errorf("apple: client secret: %w", err)
	}
	return &oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: secret,
		RedirectURL:  a.cfg.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   AppleAuthURL,
			TokenURL:  a.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{"name", "email"},
	}, nil
}

func (a *Apple) Exchange(ctx context.Context, code string) (*Tokens, *domain.ExternalIdentity, error) {
	conf, err := a.oauthConfig()
	if err != nil {
		return nil, nil, err
	}
	ctx = withHTTPClient(ctx, a.cfg.HTTPClient)
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("apple: exchange: %w", err)
	}
	ident, err := verifyIDToken(ctx, a.verifier, domain.ProviderApple, tok)
	if err != nil {
		return nil, nil, err
	}
	return &Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, ident, nil
}

func (a *Apple) Refresh(ctx context.Context, refreshToken string) (*Tokens, *domain.ExternalIdentity, error) {
	conf, err := a.oauthConfig()
	if err != nil {
		return nil, nil, err
	}
	ctx = withHTTPClient(ctx, a.cfg.HTTPClient)
	tok, err := refresh(ctx, conf, refreshToken)
	if err != nil {
		return nil, nil, fmt.Errorf("apple: refresh: %w", err)
	}
	ident, err := verifyIDToken(ctx, a.verifier, domain.ProviderApple, tok)
	if err != nil {
		return nil, nil, err
	}
	return &Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, ident, nil
}

func (a *Apple) Verify(context.Context, string) (*domain.ExternalIdentity, error) {
	return nil, ErrVerifyUnsupported
}
