package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/svenmapprio/menuet/internal/identity/domain"
)

// Google endpoints. Overridable through GoogleConfig for tests.
const (
	GoogleAuthURL      = "https://accounts.google.com/o/oauth2/auth"
	GoogleTokenURL     = "https://oauth2.googleapis.com/token"
	GoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	GoogleIssuer       = "https://accounts.google.com"
	GoogleJWKSURL      = "https://www.googleapis.com/oauth2/v3/certs"
)

// GoogleConfig configures the Google client. Empty URLs use the production endpoints; a nil
// KeySet fetches Google's signing keys remotely.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenURL     string
	TokenInfoURL string
	Issuer       string
	KeySet       oidc.KeySet
	HTTPClient   *http.Client
}

// Google implements Client for Google sign-in.
type Google struct {
	conf         *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	tokenInfoURL string
	clientID     string
	httpClient   *http.Client
}

// NewGoogle returns a Google client.
func NewGoogle(cfg GoogleConfig) *Google {
	if cfg.TokenURL == "" {
		cfg.TokenURL = GoogleTokenURL
	}
	if cfg.TokenInfoURL == "" {
		cfg.TokenInfoURL = GoogleTokenInfoURL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = GoogleIssuer
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	keySet := cfg.KeySet
	if keySet == nil {
		keySet = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), httpClient), GoogleJWKSURL)
	}
	return &Google{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   GoogleAuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier:     oidc.NewVerifier(cfg.Issuer, keySet, &oidc.Config{ClientID: cfg.ClientID}),
		tokenInfoURL: cfg.TokenInfoURL,
		clientID:     cfg.ClientID,
		httpClient:   httpClient,
	}
}

func (g *Google) Provider() domain.Provider { return domain.ProviderGoogle }

func (g *Google) Exchange(ctx context.Context, code string) (*Tokens, *domain.ExternalIdentity, error) {
	ctx = withHTTPClient(ctx, g.httpClient)
	tok, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("google: exchange: %w", err)
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return nil, nil, errors.New("google: exchange returned an incomplete token pair")
	}
	ident, err := verifyIDToken(ctx, g.verifier, domain.ProviderGoogle, tok)
	if err != nil {
		return nil, nil, err
	}
	return &Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, ident, nil
}

func (g *Google) Refresh(ctx context.Context, refreshToken string) (*Tokens, *domain.ExternalIdentity, error) {
	ctx = withHTTPClient(ctx, g.httpClient)
	tok, err := refresh(ctx, g.conf, refreshToken)
	if err != nil {
		return nil, nil, fmt.Errorf("google: refresh: %w", err)
	}
	tokens := &Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
	ident, err := verifyIDToken(ctx, g.verifier, domain.ProviderGoogle, tok)
	if errors.Is(err, ErrNoIDToken) {
		return tokens, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return tokens, ident, nil
}

type tokenInfo struct {
	Sub     string `json:"sub"`
	Aud     string `json:"aud"`
	Email   string `json:"email"`
	Error   string `json:"error"`
	ErrDesc string `json:"error_description"`
}

// Verify asks the tokeninfo endpoint about accessToken.
func (g *Google) Verify(ctx context.Context, accessToken string) (*domain.ExternalIdentity, error) {
	if accessToken == "" {
		return nil, errors.New("google: empty access token")
	}
	u := g.tokenInfoURL + "?" + url.Values{"access_token": {accessToken}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google: tokeninfo: %w", err)
	}
	defer resp.Body.Close()

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("google: tokeninfo: decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google: tokeninfo: %d %s %s", resp.StatusCode, info.Error, info.ErrDesc)
	}
	if info.Sub == "" {
		return nil, errors.New("google: tokeninfo: no subject")
	}
	if info.Aud != "" && info.Aud != g.clientID {
		return nil, errors.New("google: tokeninfo: token issued to another client")
	}
	return &domain.ExternalIdentity{
		Provider: domain.ProviderGoogle,
		Subject:  info.Sub,
		Profile:  domain.Profile{Email: info.Email},
	}, nil
}
