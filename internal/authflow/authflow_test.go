package authflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ggoodman/mcp-session-go/internal/oauthtest"
	"github.com/ggoodman/mcp-session-go/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestParseChallenge(t *testing.T) {
	c := ParseChallenge(`Bearer realm="x", resource_metadata="https://mcp.example/.well-known/oauth-protected-resource", scope="read write", error="invalid_token"`)
	assert.Equal(t, "https://mcp.example/.well-known/oauth-protected-resource", c.ResourceMetadata)
	assert.Equal(t, "read write", c.Scope)
	assert.Equal(t, "invalid_token", c.Error)

	assert.Equal(t, Challenge{}, ParseChallenge(`Basic realm="x"`))
	assert.Equal(t, Challenge{}, ParseChallenge(""))
}

func TestDiscoverFollowsProtectedResourceMetadata(t *testing.T) {
	as := oauthtest.NewAuthServer(t)
	ms := oauthtest.NewMCPServer(t, "streamable_http", as)

	d := NewDiscoverer()
	disc, err := d.Discover(context.Background(), ms.Endpoint, "")
	require.NoError(t, err)
	require.NotNil(t, disc.ProtectedResource)
	assert.Equal(t, ms.Endpoint, disc.Resource)
	assert.Equal(t, as.URL, disc.AuthServer.Issuer)
	assert.Equal(t, as.URL+"/token", disc.AuthServer.TokenEndpoint)
	assert.Equal(t, as.URL+"/register", disc.AuthServer.RegistrationEndpoint)
}

func TestDiscoverFallsBackToServerOrigin(t *testing.T) {
	as := oauthtest.NewAuthServer(t)

	disc, err := NewDiscoverer().Discover(context.Background(), as.URL+"/mcp", "")
	require.NoError(t, err)
	assert.Nil(t, disc.ProtectedResource)
	assert.Equal(t, as.URL+"/authorize", disc.AuthServer.AuthorizationEndpoint)
}

func TestDiscoverCachesAndDeduplicates(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		if r.URL.Path != "/.well-known/oauth-authorization-server" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"issuer":"x","authorization_endpoint":"https://as/authorize","token_endpoint":"https://as/token"}`))
	}))
	defer srv.Close()

	d := NewDiscoverer()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Discover(context.Background(), srv.URL+"/mcp", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	mu.Lock()
	first := hits
	mu.Unlock()

	_, err := d.Discover(context.Background(), srv.URL+"/mcp", "")
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, first, hits, "cached lookup must not hit the network")
	_, ok := d.Cached(srv.URL + "/mcp")
	assert.True(t, ok)

	d.Forget(srv.URL + "/mcp")
	_, ok = d.Cached(srv.URL + "/mcp")
	assert.False(t, ok)
}

func TestDiscoverRejectsServerWithoutS256(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/oauth-authorization-server" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"issuer":"x","authorization_endpoint":"a","token_endpoint":"t","code_challenge_methods_supported":["plain"]}`))
	}))
	defer srv.Close()

	_, err := NewDiscoverer().Discover(context.Background(), srv.URL, "")
	var pe *oauth.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "discover", pe.Op)
}

func TestRegisterExchangeRefresh(t *testing.T) {
	ctx := context.Background()
	as := oauthtest.NewAuthServer(t)
	d := NewDiscoverer()
	disc, err := d.Discover(ctx, as.URL, "")
	require.NoError(t, err)

	info, err := Register(ctx, d.HTTPClient(), disc, oauth.ClientMetadata{
		ClientID:                "ignored",
		RedirectURIs:            []string{"https://app.example/cb"},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, "ignored", info.ClientID)
	assert.Equal(t, 1, as.Registrations)

	cfg := Config(disc, info, "https://app.example/cb", "")
	verifier := oauth2.GenerateVerifier()
	code, state := as.Authorize(t, AuthorizationURL(cfg, disc, "session-1", verifier))
	assert.Equal(t, "session-1", state)

	toks, err := Exchange(ctx, d.HTTPClient(), cfg, disc, code, verifier)
	require.NoError(t, err)
	assert.True(t, as.ValidAccessToken(toks.AccessToken))
	assert.Equal(t, int64(3600), toks.ExpiresIn)
	assert.NotEmpty(t, toks.RefreshToken)

	_, err = Exchange(ctx, d.HTTPClient(), cfg, disc, code, verifier)
	assert.True(t, oauth.IsInvalidGrant(err), "reused code must be rejected with invalid_grant, got %v", err)

	refreshed, err := Refresh(ctx, d.HTTPClient(), cfg, toks.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, toks.AccessToken, refreshed.AccessToken)
	assert.True(t, as.ValidAccessToken(refreshed.AccessToken))

	as.RevokeRefreshTokens()
	_, err = Refresh(ctx, d.HTTPClient(), cfg, refreshed.RefreshToken)
	var pe *oauth.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "refresh", pe.Op)
	assert.Equal(t, oauth.CodeInvalidGrant, pe.Code)
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
}

func TestRegisterWithoutEndpoint(t *testing.T) {
	as := oauthtest.NewAuthServer(t)
	as.DisableRegistration = true
	disc, err := NewDiscoverer().Discover(context.Background(), as.URL, "")
	require.NoError(t, err)

	_, err = Register(context.Background(), http.DefaultClient, disc, oauth.ClientMetadata{RedirectURIs: []string{"https://app/cb"}})
	var pe *oauth.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "register", pe.Op)
}
