// Package provider talks to the external credential providers: authorization code exchange,
// refresh and access token verification.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/svenmapprio/menuet/internal/identity/domain"
)

// ErrVerifyUnsupported is returned by providers that cannot validate an access token directly.
// Callers fall back to a refresh.
var ErrVerifyUnsupported = errors.New("provider: access token verification unsupported")

// ErrNoIDToken is returned when a token response carries no id_token.
var ErrNoIDToken = errors.New("provider: token response has no id_token")

// Tokens is the token pair issued by a provider.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Client is one external credential provider.
type Client interface {
	Provider() domain.Provider
	// Exchange redeems a one-time authorization code.
	Exchange(ctx context.Context, code string) (*Tokens, *domain.ExternalIdentity, error)
	// Refresh trades a refresh token for a new pair. The returned refresh token equals the old
	// one when the provider does not rotate it. The identity is nil when the response carries no id_token.
	Refresh(ctx context.Context, refreshToken string) (*Tokens, *domain.ExternalIdentity, error)
	// Verify validates an access token and returns the subject it belongs to.
	Verify(ctx context.Context, accessToken string) (*domain.ExternalIdentity, error)
}

// idClaims are the profile claims read from ID tokens.
type idClaims struct {
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

func withHTTPClient(ctx context.Context, c *http.Client) context.Context {
	if c == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c)
	return oidc.ClientContext(ctx, c)
}

func verifyIDToken(ctx context.Context, v *oidc.IDTokenVerifier, p domain.Provider, tok *oauth2.Token) (*domain.ExternalIdentity, error) {
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, ErrNoIDToken
	}
	idt, err := v.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: verify id token: %w", p, err)
	}
	var c idClaims
	if err := idt.Claims(&c); err != nil {
		return nil, fmt.Errorf("%s: id token claims: %w", p, err)
	}
	return &domain.ExternalIdentity{
		Provider: p,
		Subject:  idt.Subject,
		Profile: domain.Profile{
			Email:     c.Email,
			FirstName: c.GivenName,
			LastName:  c.FamilyName,
			Picture:   c.Picture,
		},
	}, nil
}

// refresh runs the refresh grant. oauth2 keeps the old refresh token when the response omits one.
func refresh(ctx context.Context, conf *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, errors.New("provider: empty refresh token")
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}
