package mcpclient

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/mcp-session-go/internal/oauthtest"
	"github.com/ggoodman/mcp-session-go/oauth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memProvider keeps credentials in memory.
type memProvider struct {
	mu        sync.Mutex
	redirect  string
	tokens    *oauth.Tokens
	info      *oauth.ClientInformation
	verifier  string
	expiresAt time.Time
	now       func() time.Time
	authURL   *url.URL
}

func newMemProvider() *memProvider {
	return &memProvider{redirect: "https://app.example/cb", now: time.Now}
}

func (p *memProvider) Tokens(ctx context.Context) (*oauth.Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokens, nil
}

func (p *memProvider) SaveTokens(ctx context.Context, t *oauth.Tokens) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = t
	p.expiresAt = time.Time{}
	if t.ExpiresIn > 0 {
		p.expiresAt = p.now().Add(time.Duration(t.ExpiresIn)*time.Second - 5*time.Minute)
	}
	return nil
}

func (p *memProvider) ClientInformation(ctx context.Context) (*oauth.ClientInformation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info, nil
}

func (p *memProvider) SaveClientInformation(ctx context.Context, info *oauth.ClientInformation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.info = info
	return nil
}

func (p *memProvider) CodeVerifier(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verifier == "" {
		return "", oauth.ErrCodeVerifierNotFound
	}
	return p.verifier, nil
}

func (p *memProvider) SaveCodeVerifier(ctx context.Context, v string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifier = v
	return nil
}

func (p *memProvider) DeleteCodeVerifier(ctx context.Context) error {
	return p.SaveCodeVerifier(ctx, "")
}

func (p *memProvider) RedirectURL() string { return p.redirect }

func (p *memProvider) ClientMetadata() oauth.ClientMetadata {
	return oauth.ClientMetadata{
		RedirectURIs:            []string{p.redirect},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
	}
}

func (p *memProvider) IsTokenExpired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.expiresAt.IsZero() && !p.now().Before(p.expiresAt)
}

func (p *memProvider) State() string { return "state-1" }

func (p *memProvider) CheckState(ctx context.Context, s string) (bool, error) {
	return s == "state-1", nil
}

func (p *memProvider) ConsumeState(ctx context.Context, s string) error { return nil }

func (p *memProvider) RedirectToAuthorization(ctx context.Context, u *url.URL) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authURL = u
	return nil
}

func (p *memProvider) InvalidateCredentials(ctx context.Context, scope oauth.Scope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch scope {
	case oauth.ScopeAll:
		p.tokens, p.info, p.verifier = nil, nil, ""
	case oauth.ScopeClient:
		p.info = nil
	case oauth.ScopeTokens:
		p.tokens = nil
	case oauth.ScopeVerifier:
		p.verifier = ""
	}
	return nil
}

var _ oauth.Provider = (*memProvider)(nil)

func authorize(t *testing.T, ctx context.Context, as *oauthtest.AuthServer, c *Client, p *memProvider) {
	t.Helper()
	err := c.Connect(ctx)
	require.ErrorIs(t, err, oauth.ErrAuthorizationRequired)
	require.NotNil(t, p.authURL)
	code, state := as.Authorize(t, p.authURL.String())
	require.Equal(t, "state-1", state)
	require.NoError(t, c.FinishAuth(ctx, code))
}

func TestNewValidatesInput(t *testing.T) {
	p := newMemProvider()
	_, err := New("https://mcp.example/mcp", "websocket", p)
	assert.ErrorIs(t, err, ErrUnsupportedTransport)

	_, err = New("not a url", TransportSSE, p)
	assert.Error(t, err)

	_, err = New("https://mcp.example/mcp", TransportSSE, nil)
	assert.Error(t, err)
}

func TestConnectWithoutAuthorization(t *testing.T) {
	for _, tr := range []TransportType{TransportStreamableHTTP, TransportSSE} {
		t.Run(string(tr), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			ms := oauthtest.NewMCPServer(t, string(tr), nil)

			c, err := New(ms.Endpoint, tr, newMemProvider())
			require.NoError(t, err)
			require.NoError(t, c.Connect(ctx))
			defer c.Disconnect()

			tools, err := c.ListTools(ctx)
			require.NoError(t, err)
			require.Len(t, tools, 1)
			assert.Equal(t, "echo", tools[0].Name)
		})
	}
}

func TestFullAuthorizationFlow(t *testing.T) {
	for _, tr := range []TransportType{TransportStreamableHTTP, TransportSSE} {
		t.Run(string(tr), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			as := oauthtest.NewAuthServer(t)
			ms := oauthtest.NewMCPServer(t, string(tr), as)
			p := newMemProvider()

			c, err := New(ms.Endpoint, tr, p)
			require.NoError(t, err)

			err = c.Connect(ctx)
			require.ErrorIs(t, err, oauth.ErrAuthorizationRequired)
			assert.False(t, c.Connected())
			require.NotNil(t, p.info, "client must be registered before redirect")
			require.NotEmpty(t, p.verifier)
			require.NotNil(t, p.authURL)
			assert.Equal(t, ms.Endpoint, p.authURL.Query().Get("resource"))

			code, _ := as.Authorize(t, p.authURL.String())
			require.NoError(t, c.FinishAuth(ctx, code))
			assert.Empty(t, p.verifier, "verifier must be cleared after exchange")
			require.NotNil(t, p.tokens)

			require.NoError(t, c.Reconnect(ctx))
			defer c.Disconnect()

			res, err := c.CallTool(ctx, "echo", map[string]any{"text": "hi"})
			require.NoError(t, err)
			require.Len(t, res.Content, 1)
			assert.Equal(t, "hi", res.Content[0].(*mcp.TextContent).Text)
		})
	}
}

func TestFinishAuthWithoutVerifier(t *testing.T) {
	as := oauthtest.NewAuthServer(t)
	ms := oauthtest.NewMCPServer(t, "streamable_http", as)
	c, err := New(ms.Endpoint, TransportStreamableHTTP, newMemProvider())
	require.NoError(t, err)

	err = c.FinishAuth(context.Background(), "code")
	assert.ErrorIs(t, err, oauth.ErrCodeVerifierNotFound)
}

func TestFinishAuthClearsVerifierOnFailure(t *testing.T) {
	ctx := context.Background()
	as := oauthtest.NewAuthServer(t)
	ms := oauthtest.NewMCPServer(t, "streamable_http", as)
	p := newMemProvider()
	c, err := New(ms.Endpoint, TransportStreamableHTTP, p)
	require.NoError(t, err)

	require.ErrorIs(t, c.Connect(ctx), oauth.ErrAuthorizationRequired)
	err = c.FinishAuth(ctx, "bogus")
	assert.True(t, oauth.IsInvalidGrant(err), "got %v", err)
	assert.Empty(t, p.verifier)
}

func TestGetValidTokensRefreshesExpired(t *testing.T) {
	ctx := context.Background()
	as := oauthtest.NewAuthServer(t)
	ms := oauthtest.NewMCPServer(t, "streamable_http", as)
	p := newMemProvider()
	clock := time.Now()
	p.now = func() time.Time { return clock }

	c, err := New(ms.Endpoint, TransportStreamableHTTP, p)
	require.NoError(t, err)
	authorize(t, ctx, as, c, p)
	first := p.tokens

	ok, err := c.GetValidTokens(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Same(t, first, p.tokens, "unexpired tokens must not be refreshed")

	clock = clock.Add(2 * time.Hour)
	ok, err = c.GetValidTokens(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEqual(t, first.AccessToken, p.tokens.AccessToken)
	assert.True(t, as.ValidAccessToken(p.tokens.AccessToken))
}

func TestGetValidTokensInvalidGrant(t *testing.T) {
	ctx := context.Background()
	as := oauthtest.NewAuthServer(t)
	ms := oauthtest.NewMCPServer(t, "streamable_http", as)
	p := newMemProvider()
	clock := time.Now()
	p.now = func() time.Time { return clock }

	c, err := New(ms.Endpoint, TransportStreamableHTTP, p)
	require.NoError(t, err)
	authorize(t, ctx, as, c, p)

	as.RevokeRefreshTokens()
	clock = clock.Add(2 * time.Hour)
	ok, err := c.GetValidTokens(ctx)
	assert.False(t, ok)
	assert.True(t, oauth.IsInvalidGrant(err), "got %v", err)
}

func TestGetValidTokensWithoutTokens(t *testing.T) {
	c, err := New("https://mcp.example/mcp", TransportSSE, newMemProvider())
	require.NoError(t, err)
	ok, err := c.GetValidTokens(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconnectWithRevokedTokenRequiresAuthorization(t *testing.T) {
	ctx := context.Background()
	as := oauthtest.NewAuthServer(t)
	ms := oauthtest.NewMCPServer(t, "streamable_http", as)
	p := newMemProvider()
	c, err := New(ms.Endpoint, TransportStreamableHTTP, p)
	require.NoError(t, err)
	authorize(t, ctx, as, c, p)

	as.RevokeAccessTokens()
	err = c.Reconnect(ctx)
	assert.ErrorIs(t, err, oauth.ErrAuthorizationRequired)
	assert.True(t, c.AuthorizationRequired())
	registrations := as.Registrations
	assert.Equal(t, 1, registrations, "reconnect must not re-register")
}

func TestConnectWithRevokedTokenDoesNotRestartAuthorization(t *testing.T) {
	ctx := context.Background()
	as := oauthtest.NewAuthServer(t)
	ms := oauthtest.NewMCPServer(t, "streamable_http", as)
	p := newMemProvider()
	c, err := New(ms.Endpoint, TransportStreamableHTTP, p)
	require.NoError(t, err)
	authorize(t, ctx, as, c, p)
	p.authURL = nil

	as.RevokeAccessTokens()
	fresh, err := New(ms.Endpoint, TransportStreamableHTTP, p)
	require.NoError(t, err)
	err = fresh.Connect(ctx)
	require.ErrorIs(t, err, oauth.ErrAuthorizationRequired)
	assert.True(t, fresh.AuthorizationRequired())
	assert.False(t, fresh.Connected())
	assert.Nil(t, p.authURL, "no authorization url should be issued")
	assert.Empty(t, p.verifier, "no verifier should be stored")
	assert.Equal(t, 1, as.Registrations)
}

func TestToolsRequireConnection(t *testing.T) {
	c, err := New("https://mcp.example/mcp", TransportSSE, newMemProvider())
	require.NoError(t, err)

	_, err = c.ListTools(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.CallTool(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
}

func TestConnectPropagatesProviderErrors(t *testing.T) {
	boom := errors.New("store down")
	c, err := New("https://mcp.example/mcp", TransportSSE, failingProvider{memProvider: newMemProvider(), err: boom})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Connect(context.Background()), boom)
}

type failingProvider struct {
	*memProvider
	err error
}

func (p failingProvider) Tokens(ctx context.Context) (*oauth.Tokens, error) { return nil, p.err }
