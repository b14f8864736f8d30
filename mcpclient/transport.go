package mcpclient

import (
	"net/http"
	"sync"

	"github.com/ggoodman/mcp-session-go/oauth"
)

// bearerTransport attaches the provider's current access token to every
// request and remembers the last 401 challenge it saw.
type bearerTransport struct {
	base  http.RoundTripper
	creds oauth.Credentials

	mu        sync.Mutex
	challenge string
	denied    bool
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	toks, err := t.creds.Tokens(req.Context())
	if err != nil {
		return nil, err
	}
	if toks != nil && toks.AccessToken != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+toks.AccessToken)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.mu.Lock()
		t.denied = true
		t.challenge = resp.Header.Get("WWW-Authenticate")
		t.mu.Unlock()
	}
	return resp, nil
}

// unauthorized reports whether a 401 was seen since the last reset, and the
// WWW-Authenticate header that came with it.
func (t *bearerTransport) unauthorized() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.denied, t.challenge
}

func (t *bearerTransport) reset() {
	t.mu.Lock()
	t.denied = false
	t.challenge = ""
	t.mu.Unlock()
}
