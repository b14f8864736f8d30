package authflow

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ggoodman/mcp-session-go/oauth"
	"golang.org/x/oauth2"
)

// Config builds the x/oauth2 configuration for a registered public client.
func Config(disc *Discovery, info *oauth.ClientInformation, redirectURL, scope string) *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:     info.ClientID,
		ClientSecret: info.ClientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   disc.AuthServer.AuthorizationEndpoint,
			TokenURL:  disc.AuthServer.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if info.TokenEndpointAuthMethod == "client_secret_basic" {
		cfg.Endpoint.AuthStyle = oauth2.AuthStyleInHeader
	}
	if scope == "" {
		scope = info.Scope
	}
	if scope != "" {
		cfg.Scopes = []string{scope}
	}
	return cfg
}

// AuthorizationURL builds the authorization request URL carrying the S256
// challenge for verifier and the resource indicator.
func AuthorizationURL(cfg *oauth2.Config, disc *Discovery, state, verifier string) string {
	return cfg.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("resource", disc.Resource),
	)
}

// Exchange trades an authorization code for tokens.
func Exchange(ctx context.Context, hc *http.Client, cfg *oauth2.Config, disc *Discovery, code, verifier string) (*oauth.Tokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	tok, err := cfg.Exchange(ctx, code,
		oauth2.VerifierOption(verifier),
		oauth2.SetAuthURLParam("resource", disc.Resource),
	)
	if err != nil {
		return nil, translate("exchange", err)
	}
	return oauth.TokensFromOAuth2(tok), nil
}

// Refresh performs the refresh_token grant. When the server omits a new
// refresh token the previous one is carried over.
func Refresh(ctx context.Context, hc *http.Client, cfg *oauth2.Config, refreshToken string) (*oauth.Tokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	tok, err := cfg.TokenSource(ctx, (&oauth.Tokens{RefreshToken: refreshToken}).OAuth2Token(time.Time{})).Token()
	if err != nil {
		return nil, translate("refresh", err)
	}
	out := oauth.TokensFromOAuth2(tok)
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

func translate(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		pe := &oauth.ProtocolError{
			Op:          op,
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			URI:         re.ErrorURI,
		}
		if re.Response != nil {
			pe.StatusCode = re.Response.StatusCode
		}
		return pe
	}
	return err
}
