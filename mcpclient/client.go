// Package mcpclient wraps a single OAuth-protected connection to a remote MCP
// server. A Client is paired with exactly one oauth.Provider, through which
// it reads and writes all credentials; the Client itself holds no durable
// state and can be rebuilt from whatever the provider persists.
package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/ggoodman/mcp-session-go/internal/authflow"
	"github.com/ggoodman/mcp-session-go/oauth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/oauth2"
)

// TransportType selects how the client talks to the remote server.
type TransportType string

const (
	TransportSSE            TransportType = "sse"
	TransportStreamableHTTP TransportType = "streamable_http"
)

// Valid reports whether t names a supported transport.
func (t TransportType) Valid() bool {
	return t == TransportSSE || t == TransportStreamableHTTP
}

var (
	// ErrNotConnected is returned by tool operations before a successful
	// Connect.
	ErrNotConnected = errors.New("mcpclient: not connected")
	// ErrUnsupportedTransport is returned by New for an unknown transport.
	ErrUnsupportedTransport = errors.New("mcpclient: unsupported transport type")
)

const (
	defaultClientName    = "mcp-session-go"
	defaultClientVersion = "v0.1.0"
)

// MetadataCache shares authorization server discovery results between
// clients. A single cache per process lets rehydrated clients skip discovery.
type MetadataCache struct {
	d *authflow.Discoverer
}

// NewMetadataCache creates a cache whose discovery, registration and token
// requests go through hc. A nil hc uses a client with a 30s timeout.
func NewMetadataCache(hc *http.Client, log *slog.Logger) *MetadataCache {
	opts := []authflow.DiscovererOption{}
	if hc != nil {
		opts = append(opts, authflow.WithHTTPClient(hc))
	}
	if log != nil {
		opts = append(opts, authflow.WithLogger(log))
	}
	return &MetadataCache{d: authflow.NewDiscoverer(opts...)}
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithHTTPClient sets the client used for MCP traffic. Its transport is
// wrapped to inject bearer tokens.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetadataCache shares discovery results with other clients.
func WithMetadataCache(mc *MetadataCache) Option {
	return func(c *Client) { c.cache = mc }
}

// WithImplementation sets the name and version announced during initialize.
func WithImplementation(name, version string) Option {
	return func(c *Client) { c.impl = &mcp.Implementation{Name: name, Version: version} }
}

// WithScope requests scope during authorization instead of the scope hinted
// by the server.
func WithScope(scope string) Option {
	return func(c *Client) { c.scope = scope }
}

// Client is one logical connection to a remote MCP server.
type Client struct {
	serverURL  string
	transport  TransportType
	provider   oauth.Provider
	log        *slog.Logger
	httpClient *http.Client
	cache      *MetadataCache
	impl       *mcp.Implementation
	scope      string

	mu       sync.Mutex
	session  *mcp.ClientSession
	bearer   *bearerTransport
	rejected bool
}

// New creates a client for serverURL. No I/O happens until Connect.
func New(serverURL string, transport TransportType, provider oauth.Provider, opts ...Option) (*Client, error) {
	if !transport.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, transport)
	}
	u, err := url.Parse(serverURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("mcpclient: invalid server url %q", serverURL)
	}
	if provider == nil {
		return nil, errors.New("mcpclient: provider is required")
	}
	c := &Client{
		serverURL: serverURL,
		transport: transport,
		provider:  provider,
		log:       slog.Default(),
		impl:      &mcp.Implementation{Name: defaultClientName, Version: defaultClientVersion},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.cache == nil {
		c.cache = NewMetadataCache(nil, c.log)
	}
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.bearer = &bearerTransport{base: base, creds: provider}
	return c, nil
}

func (c *Client) ServerURL() string            { return c.serverURL }
func (c *Client) TransportType() TransportType { return c.transport }

// OAuthProvider exposes the client's credentials for inspection.
func (c *Client) OAuthProvider() oauth.Credentials { return c.provider }

// Connected reports whether a transport session is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// AuthorizationRequired reports whether the last Connect or Reconnect was
// refused because the server rejected the stored access token.
func (c *Client) AuthorizationRequired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

// Connect performs the transport handshake. If the server demands
// authorization and no tokens are stored, Connect runs discovery, registers a
// client when none is stored, saves a fresh PKCE verifier, hands the
// authorization URL to the provider and returns an error wrapping
// oauth.ErrAuthorizationRequired. If tokens are stored but the server rejects
// them, Connect returns oauth.ErrAuthorizationRequired without starting a new
// authorization.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}
	c.rejected = false

	toks, err := c.provider.Tokens(ctx)
	if err != nil {
		return err
	}
	if toks != nil {
		if _, err := c.validTokensLocked(ctx); err != nil {
			return err
		}
	}

	err = c.dialLocked(ctx)
	if err == nil {
		return nil
	}
	denied, challenge := c.bearer.unauthorized()
	if !denied {
		return err
	}
	if toks != nil {
		c.rejected = true
		return fmt.Errorf("%w: %v", oauth.ErrAuthorizationRequired, err)
	}
	return c.beginAuthorizationLocked(ctx, authflow.ParseChallenge(challenge))
}

// Reconnect re-establishes the transport with whatever credentials the
// provider now holds. It never runs discovery or registration; a rejected
// token yields oauth.ErrAuthorizationRequired.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	c.rejected = false

	err := c.dialLocked(ctx)
	if err == nil {
		return nil
	}
	if denied, _ := c.bearer.unauthorized(); denied {
		c.rejected = true
		return fmt.Errorf("%w: %v", oauth.ErrAuthorizationRequired, err)
	}
	return err
}

// Disconnect closes the transport. It is safe to call repeatedly.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

// FinishAuth exchanges an authorization code for tokens and saves them
// through the provider. The code verifier is cleared afterwards whether or
// not the exchange succeeded.
func (c *Client) FinishAuth(ctx context.Context, code string) error {
	verifier, err := c.provider.CodeVerifier(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.provider.DeleteCodeVerifier(context.WithoutCancel(ctx)); err != nil {
			c.log.WarnContext(ctx, "mcpclient.finish_auth.delete_verifier_failed", slog.String("err", err.Error()))
		}
	}()

	disc, cfg, err := c.oauthConfig(ctx, "")
	if err != nil {
		return err
	}
	toks, err := authflow.Exchange(ctx, c.cache.d.HTTPClient(), cfg, disc, code, verifier)
	if err != nil {
		return err
	}
	if err := c.provider.SaveTokens(ctx, toks); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "mcpclient.finish_auth.ok", slog.String("server_url", c.serverURL))
	return nil
}

// GetValidTokens refreshes the access token when it is known to be expired
// and a refresh token is available. It reports whether a usable access token
// exists afterwards. Authorization server rejections are returned as
// *oauth.ProtocolError.
func (c *Client) GetValidTokens(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validTokensLocked(ctx)
}

func (c *Client) validTokensLocked(ctx context.Context) (bool, error) {
	toks, err := c.provider.Tokens(ctx)
	if err != nil {
		return false, err
	}
	if toks == nil {
		return false, nil
	}
	if !c.provider.IsTokenExpired() {
		return toks.AccessToken != "", nil
	}
	if toks.RefreshToken == "" {
		return false, nil
	}

	_, cfg, err := c.oauthConfig(ctx, "")
	if err != nil {
		return false, err
	}
	fresh, err := authflow.Refresh(ctx, c.cache.d.HTTPClient(), cfg, toks.RefreshToken)
	if err != nil {
		return false, err
	}
	if err := c.provider.SaveTokens(ctx, fresh); err != nil {
		return false, err
	}
	c.log.DebugContext(ctx, "mcpclient.tokens.refreshed", slog.String("server_url", c.serverURL))
	return fresh.AccessToken != "", nil
}

// ListTools returns every tool the server offers, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	cs, err := c.current()
	if err != nil {
		return nil, err
	}
	var tools []*mcp.Tool
	params := &mcp.ListToolsParams{}
	for {
		res, err := cs.ListTools(ctx, params)
		if err != nil {
			return nil, c.wrapAuth(err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

// CallTool invokes name with args on the remote server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	cs, err := c.current()
	if err != nil {
		return nil, err
	}
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, c.wrapAuth(err)
	}
	return res, nil
}

func (c *Client) current() (*mcp.ClientSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNotConnected
	}
	return c.session, nil
}

func (c *Client) wrapAuth(err error) error {
	if denied, _ := c.bearer.unauthorized(); denied {
		return fmt.Errorf("%w: %v", oauth.ErrAuthorizationRequired, err)
	}
	return err
}

func (c *Client) dialLocked(ctx context.Context) error {
	c.bearer.reset()
	hc := *c.httpClient
	hc.Transport = c.bearer

	var t mcp.Transport
	switch c.transport {
	case TransportSSE:
		t = &mcp.SSEClientTransport{Endpoint: c.serverURL, HTTPClient: &hc}
	default:
		t = &mcp.StreamableClientTransport{Endpoint: c.serverURL, HTTPClient: &hc, DisableStandaloneSSE: true}
	}
	cs, err := mcp.NewClient(c.impl, &mcp.ClientOptions{Logger: c.log}).Connect(ctx, t, nil)
	if err != nil {
		return fmt.Errorf("mcp connect %s: %w", c.serverURL, err)
	}
	c.session = cs
	return nil
}

func (c *Client) closeLocked() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

func (c *Client) beginAuthorizationLocked(ctx context.Context, ch authflow.Challenge) error {
	scope := c.scope
	if scope == "" {
		scope = ch.Scope
	}
	disc, err := c.cache.d.Discover(ctx, c.serverURL, ch.ResourceMetadata)
	if err != nil {
		return err
	}

	info, err := c.provider.ClientInformation(ctx)
	if err != nil {
		return err
	}
	if info == nil {
		meta := c.provider.ClientMetadata()
		if scope != "" && meta.Scope == "" {
			meta.Scope = scope
		}
		info, err = authflow.Register(ctx, c.cache.d.HTTPClient(), disc, meta)
		if err != nil {
			return err
		}
		if err := c.provider.SaveClientInformation(ctx, info); err != nil {
			return err
		}
	}

	verifier := oauth2.GenerateVerifier()
	if err := c.provider.SaveCodeVerifier(ctx, verifier); err != nil {
		return err
	}
	cfg := authflow.Config(disc, info, c.provider.RedirectURL(), scope)
	raw := authflow.AuthorizationURL(cfg, disc, c.provider.State(), verifier)
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid authorization url: %w", err)
	}
	if err := c.provider.RedirectToAuthorization(ctx, u); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", oauth.ErrAuthorizationRequired, u.Host)
}

// oauthConfig resolves discovery (cached after the first lookup) and the
// stored client registration into an x/oauth2 config.
func (c *Client) oauthConfig(ctx context.Context, hint string) (*authflow.Discovery, *oauth2.Config, error) {
	disc, err := c.cache.d.Discover(ctx, c.serverURL, hint)
	if err != nil {
		return nil, nil, err
	}
	info, err := c.provider.ClientInformation(ctx)
	if err != nil {
		return nil, nil, err
	}
	if info == nil {
		return nil, nil, oauth.ErrNoClientInformation
	}
	return disc, authflow.Config(disc, info, c.provider.RedirectURL(), c.scope), nil
}
