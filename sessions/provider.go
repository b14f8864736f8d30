package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/ggoodman/mcp-session-go/oauth"
)

// TokenExpiryBuffer is subtracted from a token's lifetime when its expiry is
// recorded, so tokens are refreshed before the server starts rejecting them.
const TokenExpiryBuffer = 5 * time.Minute

// RedirectFunc receives the authorization URL the user agent must visit.
type RedirectFunc func(ctx context.Context, u *url.URL) error

// Provider is the oauth.Provider for one session. Every capability is a read
// or read-modify-write of that session's record; the only in-process state is
// a mirror of the client id, the token expiry and the last authorization URL.
type Provider struct {
	records     *records
	sessionID   string
	serverURL   string
	callbackURL string
	clientName  string
	onRedirect  RedirectFunc
	now         func() time.Time
	log         *slog.Logger

	mu             sync.Mutex
	clientID       string
	tokenExpiresAt *time.Time
	authURL        *url.URL
}

func (p *Provider) SessionID() string { return p.sessionID }

func (p *Provider) RedirectURL() string { return p.callbackURL }

// ClientMetadata describes this client as a public PKCE client redirecting to
// the session's callback URL.
func (p *Provider) ClientMetadata() oauth.ClientMetadata {
	meta := oauth.ClientMetadata{
		ClientName:              p.clientName,
		RedirectURIs:            []string{p.callbackURL},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	}
	if u, err := url.Parse(p.callbackURL); err == nil && u.Host != "" {
		meta.ClientURI = u.Scheme + "://" + u.Host
	}
	p.mu.Lock()
	meta.ClientID = p.clientID
	p.mu.Unlock()
	return meta
}

func (p *Provider) ClientInformation(ctx context.Context) (*oauth.ClientInformation, error) {
	rec, err := p.records.load(ctx, p.sessionID)
	if err != nil || rec == nil || rec.ClientInformation == nil {
		return nil, err
	}
	p.mu.Lock()
	p.clientID = rec.ClientInformation.ClientID
	p.mu.Unlock()
	return rec.ClientInformation, nil
}

func (p *Provider) SaveClientInformation(ctx context.Context, info *oauth.ClientInformation) error {
	if info == nil {
		return fmt.Errorf("sessions: nil client information")
	}
	err := p.records.update(ctx, p.sessionID, func(r *Record) error {
		r.ClientInformation = info
		r.ClientID = info.ClientID
		return nil
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.clientID = info.ClientID
	p.mu.Unlock()
	return nil
}

// Tokens returns the stored tokens and seeds the expiry mirror from the
// record when it has not been seeded yet.
func (p *Provider) Tokens(ctx context.Context) (*oauth.Tokens, error) {
	rec, err := p.records.load(ctx, p.sessionID)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.TokenExpiresAt != nil {
		p.mu.Lock()
		if p.tokenExpiresAt == nil {
			at := time.UnixMilli(*rec.TokenExpiresAt)
			p.tokenExpiresAt = &at
		}
		p.mu.Unlock()
	}
	return rec.Tokens, nil
}

// SaveTokens stores t, recomputing the derived expiry or clearing it when t
// carries no lifetime.
func (p *Provider) SaveTokens(ctx context.Context, t *oauth.Tokens) error {
	if t == nil {
		return fmt.Errorf("sessions: nil tokens")
	}
	var expiresAt *time.Time
	if t.ExpiresIn > 0 {
		at := p.now().Add(time.Duration(t.ExpiresIn)*time.Second - TokenExpiryBuffer)
		expiresAt = &at
	}
	err := p.records.update(ctx, p.sessionID, func(r *Record) error {
		r.Tokens = t
		r.Active = true
		r.TokenExpiresAt = nil
		if expiresAt != nil {
			ms := expiresAt.UnixMilli()
			r.TokenExpiresAt = &ms
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.tokenExpiresAt = expiresAt
	p.mu.Unlock()
	return nil
}

// IsTokenExpired compares the expiry mirror to the clock. It reports false
// when no expiry is known.
func (p *Provider) IsTokenExpired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tokenExpiresAt == nil {
		return false
	}
	return !p.now().Before(*p.tokenExpiresAt)
}

// TokenExpiresAt returns the expiry mirror.
func (p *Provider) TokenExpiresAt() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tokenExpiresAt == nil {
		return time.Time{}, false
	}
	return *p.tokenExpiresAt, true
}

// State is the OAuth state parameter, which is the session id.
func (p *Provider) State() string { return p.sessionID }

// CheckState accepts state when a session record exists for it.
func (p *Provider) CheckState(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	rec, err := p.records.load(ctx, state)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// ConsumeState does nothing; state stays valid until the record expires.
func (p *Provider) ConsumeState(ctx context.Context, state string) error { return nil }

func (p *Provider) RedirectToAuthorization(ctx context.Context, u *url.URL) error {
	p.mu.Lock()
	p.authURL = u
	p.mu.Unlock()
	p.log.DebugContext(ctx, "sessions.provider.redirect", slog.String("host", u.Host))
	if p.onRedirect == nil {
		return nil
	}
	return p.onRedirect(ctx, u)
}

// AuthorizationURL returns the last URL passed to RedirectToAuthorization.
func (p *Provider) AuthorizationURL() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authURL
}

func (p *Provider) SaveCodeVerifier(ctx context.Context, verifier string) error {
	return p.records.update(ctx, p.sessionID, func(r *Record) error {
		r.CodeVerifier = verifier
		return nil
	})
}

// CodeVerifier fails with oauth.ErrCodeVerifierNotFound when none is stored.
func (p *Provider) CodeVerifier(ctx context.Context) (string, error) {
	rec, err := p.records.load(ctx, p.sessionID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("%w: %w", oauth.ErrCodeVerifierNotFound, ErrSessionNotFound)
	}
	if rec.CodeVerifier == "" {
		return "", oauth.ErrCodeVerifierNotFound
	}
	return rec.CodeVerifier, nil
}

// DeleteCodeVerifier clears the verifier. It is a no-op for an absent record
// or one without a verifier.
func (p *Provider) DeleteCodeVerifier(ctx context.Context) error {
	rec, err := p.records.load(ctx, p.sessionID)
	if err != nil || rec == nil || rec.CodeVerifier == "" {
		return err
	}
	rec.CodeVerifier = ""
	return p.records.save(ctx, rec)
}

// InvalidateCredentials clears the credentials named by scope. ScopeAll
// deletes the whole record.
func (p *Provider) InvalidateCredentials(ctx context.Context, scope oauth.Scope) error {
	if scope == oauth.ScopeAll {
		if err := p.records.delete(ctx, p.sessionID); err != nil {
			return err
		}
		p.mu.Lock()
		p.clientID = ""
		p.tokenExpiresAt = nil
		p.mu.Unlock()
		return nil
	}

	var clear func(*Record)
	switch scope {
	case oauth.ScopeClient:
		clear = func(r *Record) { r.ClientInformation, r.ClientID = nil, "" }
	case oauth.ScopeTokens:
		clear = func(r *Record) { r.Tokens, r.TokenExpiresAt, r.Active = nil, nil, false }
	case oauth.ScopeVerifier:
		clear = func(r *Record) { r.CodeVerifier = "" }
	default:
		return fmt.Errorf("sessions: unknown credential scope %q", scope)
	}

	rec, err := p.records.load(ctx, p.sessionID)
	if err != nil || rec == nil {
		return err
	}
	clear(rec)
	if err := p.records.save(ctx, rec); err != nil {
		return err
	}
	p.mu.Lock()
	switch scope {
	case oauth.ScopeClient:
		p.clientID = ""
	case oauth.ScopeTokens:
		p.tokenExpiresAt = nil
	}
	p.mu.Unlock()
	return nil
}

var _ oauth.Provider = (*Provider)(nil)

// restoreTokens writes t and its recorded expiry back unchanged and seeds the
// expiry mirror from them. Rehydration uses it so that re-saving tokens does
// not restart their lifetime.
func (p *Provider) restoreTokens(ctx context.Context, t *oauth.Tokens, expiresAtMs *int64) error {
	err := p.records.update(ctx, p.sessionID, func(r *Record) error {
		r.Tokens = t
		r.TokenExpiresAt = expiresAtMs
		r.Active = true
		return nil
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.tokenExpiresAt = nil
	if expiresAtMs != nil {
		at := time.UnixMilli(*expiresAtMs)
		p.tokenExpiresAt = &at
	}
	p.mu.Unlock()
	return nil
}
