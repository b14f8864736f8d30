package sessions

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/ggoodman/mcp-session-go/mcpclient"
	"github.com/ggoodman/mcp-session-go/oauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T) (harness, *Provider) {
	t.Helper()
	h := newMemoryHarness(t)
	rec, err := h.store.SetClient(context.Background(), "s1", SetClientParams{
		ServerURL:     "https://mcp.example/mcp",
		CallbackURL:   "https://app.example/api/mcp/auth/callback",
		TransportType: mcpclient.TransportStreamableHTTP,
	})
	require.NoError(t, err)
	return h, h.store.provider(rec)
}

func TestProviderClientMetadata(t *testing.T) {
	ctx := context.Background()
	_, p := newTestProvider(t)

	meta := p.ClientMetadata()
	assert.Equal(t, []string{"https://app.example/api/mcp/auth/callback"}, meta.RedirectURIs)
	assert.Equal(t, "none", meta.TokenEndpointAuthMethod)
	assert.Equal(t, []string{"authorization_code", "refresh_token"}, meta.GrantTypes)
	assert.Equal(t, "https://app.example", meta.ClientURI)
	assert.Equal(t, DefaultClientName, meta.ClientName)
	assert.Empty(t, meta.ClientID)

	info := &oauth.ClientInformation{ClientMetadata: oauth.ClientMetadata{ClientID: "client-1"}}
	require.NoError(t, p.SaveClientInformation(ctx, info))
	assert.Equal(t, "client-1", p.ClientMetadata().ClientID)
}

func TestProviderSaveClientInformation(t *testing.T) {
	ctx := context.Background()
	h, p := newTestProvider(t)

	got, err := p.ClientInformation(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	info := &oauth.ClientInformation{ClientMetadata: oauth.ClientMetadata{ClientID: "client-1"}, ClientSecret: "shh"}
	require.NoError(t, p.SaveClientInformation(ctx, info))

	rec, err := h.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "client-1", rec.ClientID)
	assert.Equal(t, info, rec.ClientInformation)
	assert.Equal(t, StateRegistering, rec.State())
}

func TestProviderSaveTokens(t *testing.T) {
	ctx := context.Background()
	h, p := newTestProvider(t)

	require.NoError(t, p.SaveTokens(ctx, &oauth.Tokens{AccessToken: "abc", RefreshToken: "r", ExpiresIn: 3600}))
	rec, err := h.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, rec.TokenExpiresAt)
	assert.Equal(t, h.clock.Now().Add(55*time.Minute).UnixMilli(), *rec.TokenExpiresAt)
	assert.Equal(t, StateActive, rec.State())
	assert.False(t, p.IsTokenExpired())

	h.advance(55*time.Minute - time.Second)
	assert.False(t, p.IsTokenExpired())
	h.advance(time.Second)
	assert.True(t, p.IsTokenExpired())

	require.NoError(t, p.SaveTokens(ctx, &oauth.Tokens{AccessToken: "forever"}))
	rec, err = h.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, rec.TokenExpiresAt, "tokens without a lifetime clear the expiry")
	assert.False(t, p.IsTokenExpired())
}

func TestProviderSeedsExpiryFromRecord(t *testing.T) {
	ctx := context.Background()
	h, p := newTestProvider(t)
	require.NoError(t, p.SaveTokens(ctx, &oauth.Tokens{AccessToken: "abc", ExpiresIn: 600}))

	rec, err := h.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	fresh := h.store.provider(rec)
	_, ok := fresh.TokenExpiresAt()
	assert.False(t, ok)

	_, err = fresh.Tokens(ctx)
	require.NoError(t, err)
	at, ok := fresh.TokenExpiresAt()
	require.True(t, ok)
	assert.Equal(t, *rec.TokenExpiresAt, at.UnixMilli())

	h.advance(10 * time.Minute)
	assert.True(t, fresh.IsTokenExpired())
}

func TestProviderCodeVerifier(t *testing.T) {
	ctx := context.Background()
	h, p := newTestProvider(t)

	_, err := p.CodeVerifier(ctx)
	assert.ErrorIs(t, err, oauth.ErrCodeVerifierNotFound)

	require.NoError(t, p.SaveCodeVerifier(ctx, "v1"))
	v, err := p.CodeVerifier(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
	rec, _ := h.store.GetSession(ctx, "s1")
	assert.True(t, rec.AwaitingCallback())

	require.NoError(t, p.DeleteCodeVerifier(ctx))
	require.NoError(t, p.DeleteCodeVerifier(ctx))
	_, err = p.CodeVerifier(ctx)
	assert.ErrorIs(t, err, oauth.ErrCodeVerifierNotFound)
}

func TestProviderWritesRequireRecord(t *testing.T) {
	ctx := context.Background()
	h, p := newTestProvider(t)
	h.store.RemoveSession(ctx, "s1")

	assert.ErrorIs(t, p.SaveTokens(ctx, &oauth.Tokens{AccessToken: "a"}), ErrSessionNotFound)
	assert.ErrorIs(t, p.SaveCodeVerifier(ctx, "v"), ErrSessionNotFound)
	assert.ErrorIs(t, p.SaveClientInformation(ctx, &oauth.ClientInformation{}), ErrSessionNotFound)

	_, err := p.CodeVerifier(ctx)
	assert.ErrorIs(t, err, oauth.ErrCodeVerifierNotFound)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	toks, err := p.Tokens(ctx)
	require.NoError(t, err)
	assert.Nil(t, toks)
	assert.NoError(t, p.DeleteCodeVerifier(ctx))
	assert.NoError(t, p.InvalidateCredentials(ctx, oauth.ScopeTokens))

	rec, err := h.store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, rec, "provider writes must not resurrect a removed session")
}

func TestProviderState(t *testing.T) {
	ctx := context.Background()
	_, p := newTestProvider(t)

	assert.Equal(t, "s1", p.State())
	ok, err := p.CheckState(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.CheckState(ctx, "other")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = p.CheckState(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, p.ConsumeState(ctx, "s1"))
}

func TestProviderRedirect(t *testing.T) {
	ctx := context.Background()
	_, p := newTestProvider(t)
	u, _ := url.Parse("https://auth.example/authorize?state=s1")

	require.NoError(t, p.RedirectToAuthorization(ctx, u))
	assert.Equal(t, u, p.AuthorizationURL())

	var seen *url.URL
	p.onRedirect = func(ctx context.Context, u *url.URL) error {
		seen = u
		return nil
	}
	require.NoError(t, p.RedirectToAuthorization(ctx, u))
	assert.Equal(t, u, seen)
}

func TestProviderInvalidateCredentials(t *testing.T) {
	seed := func(t *testing.T) (harness, *Provider) {
		h, p := newTestProvider(t)
		ctx := context.Background()
		require.NoError(t, p.SaveClientInformation(ctx, &oauth.ClientInformation{ClientMetadata: oauth.ClientMetadata{ClientID: "c"}}))
		require.NoError(t, p.SaveCodeVerifier(ctx, "v"))
		require.NoError(t, p.SaveTokens(ctx, &oauth.Tokens{AccessToken: "a", ExpiresIn: 60}))
		return h, p
	}
	ctx := context.Background()

	t.Run("tokens", func(t *testing.T) {
		h, p := seed(t)
		require.NoError(t, p.InvalidateCredentials(ctx, oauth.ScopeTokens))
		rec, _ := h.store.GetSession(ctx, "s1")
		assert.Nil(t, rec.Tokens)
		assert.Nil(t, rec.TokenExpiresAt)
		assert.NotNil(t, rec.ClientInformation)
		assert.Equal(t, "v", rec.CodeVerifier)
		assert.Equal(t, StateAuthorizing, rec.State())
		_, ok := p.TokenExpiresAt()
		assert.False(t, ok)
	})

	t.Run("client", func(t *testing.T) {
		h, p := seed(t)
		require.NoError(t, p.InvalidateCredentials(ctx, oauth.ScopeClient))
		rec, _ := h.store.GetSession(ctx, "s1")
		assert.Nil(t, rec.ClientInformation)
		assert.Empty(t, rec.ClientID)
		assert.NotNil(t, rec.Tokens)
		assert.Empty(t, p.ClientMetadata().ClientID)
	})

	t.Run("verifier", func(t *testing.T) {
		h, p := seed(t)
		require.NoError(t, p.InvalidateCredentials(ctx, oauth.ScopeVerifier))
		rec, _ := h.store.GetSession(ctx, "s1")
		assert.Empty(t, rec.CodeVerifier)
		assert.NotNil(t, rec.Tokens)
	})

	t.Run("all", func(t *testing.T) {
		h, p := seed(t)
		require.NoError(t, p.InvalidateCredentials(ctx, oauth.ScopeAll))
		rec, err := h.store.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Nil(t, rec)
		assert.NoError(t, p.InvalidateCredentials(ctx, oauth.ScopeAll))
	})

	t.Run("unknown", func(t *testing.T) {
		_, p := seed(t)
		assert.Error(t, p.InvalidateCredentials(ctx, oauth.Scope("bogus")))
	})
}

func TestRecordState(t *testing.T) {
	var nilRec *Record
	assert.Equal(t, StateAbsent, nilRec.State())
	assert.Equal(t, StateCreated, (&Record{}).State())
	assert.Equal(t, StateRegistering, (&Record{ClientInformation: &oauth.ClientInformation{}}).State())
	assert.Equal(t, StateAuthorizing, (&Record{ClientInformation: &oauth.ClientInformation{}, CodeVerifier: "v"}).State())
	assert.Equal(t, StateActive, (&Record{Tokens: &oauth.Tokens{}, CodeVerifier: "v"}).State())
	assert.Equal(t, "authorizing", StateAuthorizing.String())
	assert.Equal(t, "absent", StateAbsent.String())
}
