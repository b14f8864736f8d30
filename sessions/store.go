package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ggoodman/mcp-session-go/internal/logctx"
	"github.com/ggoodman/mcp-session-go/mcpclient"
	"github.com/ggoodman/mcp-session-go/oauth"
	"github.com/ggoodman/mcp-session-go/storage"
	"github.com/google/uuid"
)

const (
	// DefaultTTL is how long a session record lives without being read.
	DefaultTTL = 12 * time.Hour
	// DefaultKeyPrefix namespaces session records in the KV store.
	DefaultKeyPrefix = "mcp:session:"
	// DefaultClientName is announced during dynamic client registration.
	DefaultClientName = "MCP Session Client"
)

var (
	// ErrSessionNotFound is returned by operations that need an existing
	// session record.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("sessions: corrupt session record")
	// ErrInvalidState is returned when an operation does not apply to the
	// session's current lifecycle state.
	ErrInvalidState = errors.New("sessions: invalid session state")
)

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithTTL sets the sliding lifetime of session records.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.records.ttl = ttl }
}

func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.records.prefix = prefix }
}

// WithClock replaces time.Now for record timestamps and token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithClientName sets the client_name sent during dynamic registration.
func WithClientName(name string) Option {
	return func(s *Store) { s.clientName = name }
}

// WithMetadataCache shares discovery results with clients built elsewhere.
func WithMetadataCache(mc *mcpclient.MetadataCache) Option {
	return func(s *Store) { s.cache = mc }
}

// WithClientOptions are applied to every rehydrated client.
func WithClientOptions(opts ...mcpclient.Option) Option {
	return func(s *Store) { s.clientOpts = append(s.clientOpts, opts...) }
}

// Store persists sessions in a storage.Store and rebuilds connection clients
// from them. It keeps no per-session state in process, so any number of
// Stores over the same KV backend observe the same sessions.
type Store struct {
	kv         storage.Store
	records    *records
	log        *slog.Logger
	now        func() time.Time
	clientName string
	cache      *mcpclient.MetadataCache
	clientOpts []mcpclient.Option
}

// New creates a Store over kv. The Store takes ownership of kv and closes it
// in Close.
func New(kv storage.Store, opts ...Option) *Store {
	s := &Store{
		kv:         kv,
		records:    &records{kv: kv, prefix: DefaultKeyPrefix, ttl: DefaultTTL},
		log:        slog.Default(),
		now:        time.Now,
		clientName: DefaultClientName,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = mcpclient.NewMetadataCache(nil, s.log)
	}
	return s
}

// GenerateSessionID returns a new random session id.
func (s *Store) GenerateSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SetClientParams describes a session to create or update. Zero fields leave
// the stored value untouched on update.
type SetClientParams struct {
	// Client, when set, supplies ServerURL and TransportType.
	Client        *mcpclient.Client
	ServerURL     string
	CallbackURL   string
	TransportType mcpclient.TransportType
	ServerID      string
	ServerName    string
	UserID        string
}

// SetClient creates the record for sessionID or merges p into the existing
// one. Credentials and the creation time of an existing record are kept. The
// record is marked active either way.
func (s *Store) SetClient(ctx context.Context, sessionID string, p SetClientParams) (*Record, error) {
	if sessionID == "" {
		return nil, errors.New("sessions: session id is required")
	}
	if p.Client != nil {
		if p.ServerURL == "" {
			p.ServerURL = p.Client.ServerURL()
		}
		if p.TransportType == "" {
			p.TransportType = p.Client.TransportType()
		}
	}

	rec, err := s.records.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &Record{SessionID: sessionID, CreatedAt: s.now().UnixMilli()}
	}
	if p.ServerURL != "" {
		rec.ServerURL = p.ServerURL
	}
	if p.CallbackURL != "" {
		rec.CallbackURL = p.CallbackURL
	}
	if p.TransportType != "" {
		rec.TransportType = p.TransportType
	}
	if p.ServerID != "" {
		rec.ServerID = p.ServerID
	}
	if p.ServerName != "" {
		rec.ServerName = p.ServerName
	}
	if p.UserID != "" {
		rec.UserID = p.UserID
	}
	rec.Active = true

	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	if err := s.records.save(ctx, rec); err != nil {
		return nil, err
	}
	s.log.DebugContext(ctx, "sessions.set_client", slog.String("session_id", sessionID), slog.String("state", rec.State().String()))
	return rec, nil
}

func validateRecord(rec *Record) error {
	u, err := url.Parse(rec.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("sessions: invalid server url %q", rec.ServerURL)
	}
	if !rec.TransportType.Valid() {
		return fmt.Errorf("%w: %q", mcpclient.ErrUnsupportedTransport, rec.TransportType)
	}
	return nil
}

// GetSession returns the record for sessionID, or nil when there is none.
// Reading the record slides its TTL.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Record, error) {
	return s.records.load(ctx, sessionID)
}

// Client is a rehydrated connection client together with the session
// provider backing it.
type Client struct {
	*mcpclient.Client
	provider *Provider
}

// Provider returns the session-backed OAuth provider.
func (c *Client) Provider() *Provider { return c.provider }

// SessionID is the id of the session this client was built from.
func (c *Client) SessionID() string { return c.provider.sessionID }

// GetClientOption configures a single GetClient call.
type GetClientOption func(*getClientConfig)

type getClientConfig struct {
	onRedirect RedirectFunc
}

// WithRedirect receives any authorization URL produced while connecting.
func WithRedirect(fn RedirectFunc) GetClientOption {
	return func(c *getClientConfig) { c.onRedirect = fn }
}

// GetClient rebuilds the connection client for sessionID from its record.
// It returns nil, nil when there is no such session.
//
// A session still waiting on the authorization callback is returned
// unconnected, with its registered client and code verifier restored so that
// FinishAuth can complete. A session holding tokens is connected, its
// credentials are written back through the provider, and the transport is
// re-established with them. Connection failures are logged; only store
// errors are returned.
func (s *Store) GetClient(ctx context.Context, sessionID string, opts ...GetClientOption) (*Client, error) {
	var cfg getClientConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	rec, err := s.records.load(ctx, sessionID)
	if err != nil || rec == nil {
		return nil, err
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: rec.SessionID,
		ServerURL: rec.ServerURL,
		Transport: string(rec.TransportType),
	})

	c, err := s.newClient(rec, cfg.onRedirect)
	if err != nil {
		return nil, err
	}
	prov := c.provider

	if rec.Tokens == nil {
		if err := c.Connect(ctx); err != nil {
			if errors.Is(err, oauth.ErrAuthorizationRequired) {
				s.log.DebugContext(ctx, "sessions.get_client.awaiting_authorization")
			} else {
				s.log.WarnContext(ctx, "sessions.get_client.connect_failed", slog.String("err", err.Error()))
			}
		}
		if err := s.restoreRegistration(ctx, prov, rec); err != nil {
			return nil, err
		}
		return c, nil
	}

	if err := c.Connect(ctx); err != nil {
		s.log.WarnContext(ctx, "sessions.get_client.connect_failed", slog.String("err", err.Error()))
	}
	if err := s.restoreRegistration(ctx, prov, rec); err != nil {
		return nil, err
	}
	if err := s.restoreTokens(ctx, prov, rec); err != nil {
		return nil, err
	}
	if err := c.Reconnect(ctx); err != nil {
		s.log.WarnContext(ctx, "sessions.get_client.reconnect_failed", slog.String("err", err.Error()))
	}
	return c, nil
}

func (s *Store) provider(rec *Record) *Provider {
	return &Provider{
		records:     s.records,
		sessionID:   rec.SessionID,
		serverURL:   rec.ServerURL,
		callbackURL: rec.CallbackURL,
		clientName:  s.clientName,
		now:         s.now,
		log:         s.log,
	}
}

func (s *Store) newClient(rec *Record, onRedirect RedirectFunc) (*Client, error) {
	prov := s.provider(rec)
	prov.onRedirect = onRedirect
	opts := append([]mcpclient.Option{mcpclient.WithLogger(s.log), mcpclient.WithMetadataCache(s.cache)}, s.clientOpts...)
	mc, err := mcpclient.New(rec.ServerURL, rec.TransportType, prov, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{Client: mc, provider: prov}, nil
}

// restoreRegistration writes the client information and code verifier held
// by rec back through the provider. Connecting may already have replaced the
// verifier; the one in rec is the one the pending authorization URL was
// built with.
func (s *Store) restoreRegistration(ctx context.Context, prov *Provider, rec *Record) error {
	if rec.ClientInformation != nil {
		if err := prov.SaveClientInformation(ctx, rec.ClientInformation); err != nil {
			return s.restoreErr(err)
		}
	}
	if rec.CodeVerifier != "" {
		if err := prov.SaveCodeVerifier(ctx, rec.CodeVerifier); err != nil {
			return s.restoreErr(err)
		}
	}
	return nil
}

// restoreTokens writes tokens back through the provider. Tokens refreshed
// while connecting win over the ones in rec.
func (s *Store) restoreTokens(ctx context.Context, prov *Provider, rec *Record) error {
	cur, err := s.records.load(ctx, rec.SessionID)
	if err != nil {
		return err
	}
	toks, exp := rec.Tokens, rec.TokenExpiresAt
	if cur != nil && cur.Tokens != nil && cur.Tokens.AccessToken != rec.Tokens.AccessToken {
		toks, exp = cur.Tokens, cur.TokenExpiresAt
	}
	return s.restoreErr(prov.restoreTokens(ctx, toks, exp))
}

// restoreErr drops ErrSessionNotFound: a record removed concurrently leaves
// nothing to restore into.
func (s *Store) restoreErr(err error) error {
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	return err
}

// BeginAuthorization connects the session's client without restoring any
// pending authorization. It returns the authorization URL the user must
// visit, or nil when the server accepted the connection as is.
func (s *Store) BeginAuthorization(ctx context.Context, sessionID string) (*url.URL, error) {
	rec, err := s.records.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	c, err := s.newClient(rec, nil)
	if err != nil {
		return nil, err
	}
	defer c.Disconnect()

	err = c.Connect(ctx)
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, oauth.ErrAuthorizationRequired):
		if u := c.provider.AuthorizationURL(); u != nil {
			return u, nil
		}
		return nil, err
	default:
		return nil, err
	}
}

// CompleteAuthorization redeems code for the session and returns the updated
// record. The session must be waiting on the authorization callback.
func (s *Store) CompleteAuthorization(ctx context.Context, sessionID, code string) (*Record, error) {
	rec, err := s.records.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if st := rec.State(); st == StateActive {
		return nil, fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, st)
	}

	c, err := s.GetClient(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	defer c.Disconnect()

	if err := c.FinishAuth(ctx, code); err != nil {
		return nil, err
	}
	if err := c.Reconnect(ctx); err != nil {
		s.log.WarnContext(ctx, "sessions.complete_authorization.reconnect_failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
	}
	return s.records.load(ctx, sessionID)
}

// RemoveSession deletes the session record. Failures are logged.
func (s *Store) RemoveSession(ctx context.Context, sessionID string) {
	if err := s.records.delete(ctx, sessionID); err != nil {
		s.log.ErrorContext(ctx, "sessions.remove.failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
	}
}

// GetAllSessionIDs lists the ids of every live session.
func (s *Store) GetAllSessionIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx, s.records.prefix+"*")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, s.records.idFromKey(k))
	}
	return ids, nil
}

// ClearAll deletes every session record and reports how many keys were
// removed. Failures are logged.
func (s *Store) ClearAll(ctx context.Context) int {
	keys, err := s.kv.Keys(ctx, s.records.prefix+"*")
	if err != nil {
		s.log.ErrorContext(ctx, "sessions.clear_all.failed", slog.String("err", err.Error()))
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	if err := s.kv.Del(ctx, keys...); err != nil {
		s.log.ErrorContext(ctx, "sessions.clear_all.failed", slog.String("err", err.Error()))
		return 0
	}
	s.log.InfoContext(ctx, "sessions.clear_all", slog.Int("count", len(keys)))
	return len(keys)
}

// CleanupExpiredSessions deletes session keys that carry no positive TTL and
// reports how many were removed. Failures are logged.
func (s *Store) CleanupExpiredSessions(ctx context.Context) int {
	keys, err := s.kv.Keys(ctx, s.records.prefix+"*")
	if err != nil {
		s.log.ErrorContext(ctx, "sessions.cleanup.failed", slog.String("err", err.Error()))
		return 0
	}
	removed := 0
	for _, k := range keys {
		ttl, err := s.kv.TTL(ctx, k)
		if err != nil {
			s.log.ErrorContext(ctx, "sessions.cleanup.failed", slog.String("key", k), slog.String("err", err.Error()))
			continue
		}
		if ttl > 0 {
			continue
		}
		if err := s.kv.Del(ctx, k); err != nil {
			s.log.ErrorContext(ctx, "sessions.cleanup.failed", slog.String("key", k), slog.String("err", err.Error()))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.InfoContext(ctx, "sessions.cleanup", slog.Int("removed", removed))
	}
	return removed
}

// RunCleanup calls CleanupExpiredSessions every interval until ctx is done.
func (s *Store) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupExpiredSessions(ctx)
		}
	}
}

// Ping checks that the KV backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.kv.Ping(ctx)
}

// Close releases the KV backend.
func (s *Store) Close() error {
	return s.kv.Close()
}
