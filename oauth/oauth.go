// Package oauth defines the data and capability contract shared between a
// connection client and the store-backed provider that persists its OAuth 2.0
// Authorization Code + PKCE state.
package oauth

import (
	"context"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

// Tokens is the token endpoint response as persisted with a session.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// OAuth2Token converts t into an x/oauth2 token. Expiry is left zero when the
// caller does not know it, which x/oauth2 treats as never expiring.
func (t *Tokens) OAuth2Token(expiry time.Time) *oauth2.Token {
	if t == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       expiry,
		ExpiresIn:    t.ExpiresIn,
	}
}

// TokensFromOAuth2 converts an x/oauth2 token response back into Tokens.
func TokensFromOAuth2(tok *oauth2.Token) *Tokens {
	if tok == nil {
		return nil
	}
	out := &Tokens{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
	}
	if out.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		if secs := int64(time.Until(tok.Expiry).Seconds()); secs > 0 {
			out.ExpiresIn = secs
		}
	}
	if s, ok := tok.Extra("scope").(string); ok {
		out.Scope = s
	}
	if s, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = s
	}
	return out
}

// ClientMetadata is the RFC 7591 dynamic client registration request body.
type ClientMetadata struct {
	ClientID                string   `json:"client_id,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
	SoftwareID              string   `json:"software_id,omitempty"`
	SoftwareVersion         string   `json:"software_version,omitempty"`
}

// ClientInformation is the RFC 7591 registration response: the registered
// metadata plus the issued credentials.
type ClientInformation struct {
	ClientMetadata
	ClientSecret          string `json:"client_secret,omitempty"`
	ClientIDIssuedAt      int64  `json:"client_id_issued_at,omitempty"`
	ClientSecretExpiresAt int64  `json:"client_secret_expires_at,omitempty"`
}

// Scope selects which persisted credentials InvalidateCredentials clears.
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeClient   Scope = "client"
	ScopeTokens   Scope = "tokens"
	ScopeVerifier Scope = "verifier"
)

// Credentials is the narrow, typed view of a provider's persisted
// credentials. Connection clients expose their provider through it.
type Credentials interface {
	Tokens(ctx context.Context) (*Tokens, error)
	SaveTokens(ctx context.Context, t *Tokens) error
	ClientInformation(ctx context.Context) (*ClientInformation, error)
	SaveClientInformation(ctx context.Context, info *ClientInformation) error
	CodeVerifier(ctx context.Context) (string, error)
	SaveCodeVerifier(ctx context.Context, verifier string) error
}

// Provider is the full capability set an Authorization Code + PKCE client
// needs from its persistence layer.
type Provider interface {
	Credentials

	// RedirectURL is the registered callback URL.
	RedirectURL() string
	// ClientMetadata is the registration request body for this client.
	ClientMetadata() ClientMetadata
	// IsTokenExpired reports whether the last known token expiry has passed.
	// It reports false when no expiry is known; call Tokens first.
	IsTokenExpired() bool

	State() string
	CheckState(ctx context.Context, state string) (bool, error)
	ConsumeState(ctx context.Context, state string) error

	// RedirectToAuthorization hands the authorization URL to whoever drives
	// the user agent.
	RedirectToAuthorization(ctx context.Context, u *url.URL) error

	DeleteCodeVerifier(ctx context.Context) error
	InvalidateCredentials(ctx context.Context, scope Scope) error
}
