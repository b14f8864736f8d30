// Package authflow implements the client side of OAuth 2.0 for MCP servers:
// metadata discovery, dynamic client registration and the PKCE code and
// refresh grants.
package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ggoodman/mcp-session-go/internal/wellknown"
	"github.com/ggoodman/mcp-session-go/oauth"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultHTTPTimeout bounds each discovery, registration and token request.
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultMetadataTTL is how long discovered metadata is reused.
	DefaultMetadataTTL = 30 * time.Minute

	maxMetadataBytes = 1 << 20
)

// Discovery is everything learned about how to authorize against one MCP
// server.
type Discovery struct {
	// Resource is the canonical resource identifier sent as the RFC 8707
	// resource parameter.
	Resource string
	// ProtectedResource is nil when the server publishes no RFC 9728 document
	// and its origin doubles as the authorization server.
	ProtectedResource *wellknown.ProtectedResourceMetadata
	AuthServer        *wellknown.AuthServerMetadata
}

type cacheEntry struct {
	d         *Discovery
	fetchedAt time.Time
}

// Discoverer resolves and caches Discovery per MCP server URL. It is safe for
// concurrent use; concurrent lookups of the same server share one fetch.
type Discoverer struct {
	httpClient *http.Client
	log        *slog.Logger
	ttl        time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]*cacheEntry
	group singleflight.Group
}

// DiscovererOption configures a Discoverer.
type DiscovererOption func(*Discoverer)

func WithHTTPClient(c *http.Client) DiscovererOption {
	return func(d *Discoverer) { d.httpClient = c }
}

func WithLogger(l *slog.Logger) DiscovererOption {
	return func(d *Discoverer) { d.log = l }
}

func WithMetadataTTL(ttl time.Duration) DiscovererOption {
	return func(d *Discoverer) { d.ttl = ttl }
}

func NewDiscoverer(opts ...DiscovererOption) *Discoverer {
	d := &Discoverer{
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		log:        slog.Default(),
		ttl:        DefaultMetadataTTL,
		now:        time.Now,
		cache:      make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HTTPClient is the client used for all authorization server traffic.
func (d *Discoverer) HTTPClient() *http.Client { return d.httpClient }

// Cached returns a fresh cache entry for serverURL without any network I/O.
func (d *Discoverer) Cached(serverURL string) (*Discovery, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.cache[serverURL]
	if !ok || d.now().Sub(e.fetchedAt) >= d.ttl {
		return nil, false
	}
	return e.d, true
}

// Forget drops the cached entry for serverURL.
func (d *Discoverer) Forget(serverURL string) {
	d.mu.Lock()
	delete(d.cache, serverURL)
	d.mu.Unlock()
}

// Discover resolves authorization metadata for serverURL. resourceMetadataURL
// is the optional hint from a WWW-Authenticate challenge.
func (d *Discoverer) Discover(ctx context.Context, serverURL, resourceMetadataURL string) (*Discovery, error) {
	if disc, ok := d.Cached(serverURL); ok {
		return disc, nil
	}
	v, err, _ := d.group.Do(serverURL, func() (any, error) {
		if disc, ok := d.Cached(serverURL); ok {
			return disc, nil
		}
		disc, err := d.discover(ctx, serverURL, resourceMetadataURL)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.cache[serverURL] = &cacheEntry{d: disc, fetchedAt: d.now()}
		d.mu.Unlock()
		d.log.DebugContext(ctx, "authflow.discover.cached",
			slog.String("server_url", serverURL),
			slog.String("issuer", disc.AuthServer.Issuer),
		)
		return disc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Discovery), nil
}

func (d *Discoverer) discover(ctx context.Context, serverURL, hint string) (*Discovery, error) {
	disc := &Discovery{Resource: serverURL}

	candidates, err := wellknown.ProtectedResourceMetadataURLs(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if hint != "" {
		candidates = append([]string{hint}, candidates...)
	}
	for _, u := range candidates {
		var prm wellknown.ProtectedResourceMetadata
		if err := d.getJSON(ctx, u, &prm); err != nil {
			d.log.DebugContext(ctx, "authflow.discover.prm_miss", slog.String("url", u), slog.String("err", err.Error()))
			continue
		}
		disc.ProtectedResource = &prm
		if prm.Resource != "" {
			disc.Resource = prm.Resource
		}
		break
	}

	issuer := originOf(serverURL)
	if disc.ProtectedResource != nil && len(disc.ProtectedResource.AuthorizationServers) > 0 {
		issuer = disc.ProtectedResource.AuthorizationServers[0]
	}

	as, err := d.authServerMetadata(ctx, issuer)
	if err != nil {
		return nil, err
	}
	if as.AuthorizationEndpoint == "" || as.TokenEndpoint == "" {
		return nil, &oauth.ProtocolError{Op: "discover", Description: "authorization server metadata lacks authorization or token endpoint"}
	}
	if !as.SupportsS256() {
		return nil, &oauth.ProtocolError{Op: "discover", Description: "authorization server does not support S256 PKCE"}
	}
	disc.AuthServer = as
	return disc, nil
}

// authServerMetadata tries RFC 8414 first, then falls back to OpenID Connect
// discovery.
func (d *Discoverer) authServerMetadata(ctx context.Context, issuer string) (*wellknown.AuthServerMetadata, error) {
	u, err := wellknown.AuthorizationServerMetadataURL(issuer)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer %q: %w", issuer, err)
	}
	var meta wellknown.AuthServerMetadata
	rfcErr := d.getJSON(ctx, u, &meta)
	if rfcErr == nil {
		return &meta, nil
	}
	d.log.DebugContext(ctx, "authflow.discover.rfc8414_miss", slog.String("issuer", issuer), slog.String("err", rfcErr.Error()))

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, d.httpClient), strings.TrimSuffix(issuer, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to discover authorization server metadata for %s: %w", issuer, errors.Join(rfcErr, err))
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	return &meta, nil
}

func (d *Discoverer) getJSON(ctx context.Context, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata request failed with status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse metadata: %w", err)
	}
	return nil
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Scheme + "://" + u.Host
}
