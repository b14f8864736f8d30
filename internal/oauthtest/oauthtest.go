// Package oauthtest provides an in-process OAuth authorization server and an
// OAuth-protected MCP server for tests.
package oauthtest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/ggoodman/mcp-session-go/internal/wellknown"
	"github.com/ggoodman/mcp-session-go/oauth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type pendingCode struct {
	clientID    string
	challenge   string
	redirectURI string
}

// AuthServer is a minimal RFC 8414 / RFC 7591 / PKCE authorization server.
type AuthServer struct {
	*httptest.Server

	mu            sync.Mutex
	seq           int
	clients       map[string]oauth.ClientInformation
	codes         map[string]pendingCode
	accessTokens  map[string]bool
	refreshTokens map[string]string // refresh token -> client id

	// ExpiresIn is the lifetime in seconds of issued access tokens. Zero
	// omits expires_in from token responses.
	ExpiresIn int64
	// DisableRegistration drops registration_endpoint from metadata.
	DisableRegistration bool

	Registrations int
	TokenRequests int
}

// NewAuthServer starts an authorization server closed at test cleanup.
func NewAuthServer(t testing.TB) *AuthServer {
	t.Helper()
	as := &AuthServer{
		clients:       make(map[string]oauth.ClientInformation),
		codes:         make(map[string]pendingCode),
		accessTokens:  make(map[string]bool),
		refreshTokens: make(map[string]string),
		ExpiresIn:     3600,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+wellknown.AuthorizationServerMetadataPath, as.handleMetadata)
	mux.HandleFunc("POST /register", as.handleRegister)
	mux.HandleFunc("POST /token", as.handleToken)
	as.Server = httptest.NewServer(mux)
	t.Cleanup(as.Close)
	return as
}

func (as *AuthServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	meta := wellknown.AuthServerMetadata{
		Issuer:                        as.URL,
		AuthorizationEndpoint:         as.URL + "/authorize",
		TokenEndpoint:                 as.URL + "/token",
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported: []string{"S256"},
	}
	as.mu.Lock()
	if !as.DisableRegistration {
		meta.RegistrationEndpoint = as.URL + "/register"
	}
	as.mu.Unlock()
	writeJSON(w, http.StatusOK, meta)
}

func (as *AuthServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var meta oauth.ClientMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil || len(meta.RedirectURIs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": oauth.CodeInvalidClientMeta})
		return
	}
	as.mu.Lock()
	as.seq++
	as.Registrations++
	info := oauth.ClientInformation{ClientMetadata: meta, ClientIDIssuedAt: 1_700_000_000}
	info.ClientID = fmt.Sprintf("client-%d", as.seq)
	as.clients[info.ClientID] = info
	as.mu.Unlock()
	writeJSON(w, http.StatusCreated, info)
}

// Authorize plays the user agent: it validates an authorization URL produced
// by the client and returns the code the server would redirect back with.
func (as *AuthServer) Authorize(t testing.TB, authURL string) (code, state string) {
	t.Helper()
	u, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse authorization url: %v", err)
	}
	q := u.Query()
	if q.Get("response_type") != "code" || q.Get("code_challenge_method") != "S256" {
		t.Fatalf("unexpected authorization request: %s", authURL)
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	if _, ok := as.clients[q.Get("client_id")]; !ok {
		t.Fatalf("authorization for unknown client %q", q.Get("client_id"))
	}
	as.seq++
	code = fmt.Sprintf("code-%d", as.seq)
	as.codes[code] = pendingCode{
		clientID:    q.Get("client_id"),
		challenge:   q.Get("code_challenge"),
		redirectURI: q.Get("redirect_uri"),
	}
	return code, q.Get("state")
}

func (as *AuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": oauth.CodeInvalidRequest})
		return
	}
	as.mu.Lock()
	defer as.mu.Unlock()
	as.TokenRequests++

	clientID := r.PostForm.Get("client_id")
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		pc, ok := as.codes[r.PostForm.Get("code")]
		delete(as.codes, r.PostForm.Get("code"))
		if !ok || pc.clientID != clientID || pc.redirectURI != r.PostForm.Get("redirect_uri") ||
			s256(r.PostForm.Get("code_verifier")) != pc.challenge {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": oauth.CodeInvalidGrant, "error_description": "bad code"})
			return
		}
		writeJSON(w, http.StatusOK, as.issueLocked(clientID))
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		owner, ok := as.refreshTokens[rt]
		if !ok || owner != clientID {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": oauth.CodeInvalidGrant, "error_description": "Invalid refresh token"})
			return
		}
		delete(as.refreshTokens, rt)
		writeJSON(w, http.StatusOK, as.issueLocked(clientID))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": oauth.CodeUnsupportedGrantType})
	}
}

func (as *AuthServer) issueLocked(clientID string) map[string]any {
	as.seq++
	at := fmt.Sprintf("at-%d", as.seq)
	rt := fmt.Sprintf("rt-%d", as.seq)
	as.accessTokens[at] = true
	as.refreshTokens[rt] = clientID
	out := map[string]any{
		"access_token":  at,
		"refresh_token": rt,
		"token_type":    "Bearer",
	}
	if as.ExpiresIn > 0 {
		out["expires_in"] = as.ExpiresIn
	}
	return out
}

// IssueTokens mints tokens for clientID directly, bypassing the code flow.
func (as *AuthServer) IssueTokens(clientID string) *oauth.Tokens {
	as.mu.Lock()
	defer as.mu.Unlock()
	raw := as.issueLocked(clientID)
	t := &oauth.Tokens{
		AccessToken:  raw["access_token"].(string),
		RefreshToken: raw["refresh_token"].(string),
		TokenType:    "Bearer",
	}
	if v, ok := raw["expires_in"].(int64); ok {
		t.ExpiresIn = v
	}
	return t
}

// RegisterClient registers a client directly, bypassing DCR.
func (as *AuthServer) RegisterClient(redirectURI string) *oauth.ClientInformation {
	as.mu.Lock()
	defer as.mu.Unlock()
	as.seq++
	info := oauth.ClientInformation{ClientMetadata: oauth.ClientMetadata{
		RedirectURIs:            []string{redirectURI},
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
	}}
	info.ClientID = fmt.Sprintf("client-%d", as.seq)
	as.clients[info.ClientID] = info
	return &info
}

// RevokeAccessTokens invalidates every access token issued so far.
func (as *AuthServer) RevokeAccessTokens() {
	as.mu.Lock()
	as.accessTokens = make(map[string]bool)
	as.mu.Unlock()
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (as *AuthServer) RevokeRefreshTokens() {
	as.mu.Lock()
	as.refreshTokens = make(map[string]string)
	as.mu.Unlock()
}

// ValidAccessToken reports whether tok was issued and not revoked.
func (as *AuthServer) ValidAccessToken(tok string) bool {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.accessTokens[tok]
}

// MCPServer is a go-sdk MCP server behind bearer-token protection.
type MCPServer struct {
	*httptest.Server
	// Endpoint is the MCP endpoint URL for the configured transport.
	Endpoint string
}

// NewMCPServer serves an "echo" tool over the given transport ("sse" or
// "streamable_http"). When as is nil the server requires no authorization.
func NewMCPServer(t testing.TB, transport string, as *AuthServer) *MCPServer {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "echo-server", Version: "v0.0.1"}, nil)
	type echoArgs struct {
		Text string `json:"text"`
	}
	mcp.AddTool(server, &mcp.Tool{Name: "echo", Description: "Echo text back"},
		func(ctx context.Context, req *mcp.CallToolRequest, in echoArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: in.Text}}}, nil, nil
		})

	var h http.Handler
	switch transport {
	case "sse":
		h = mcp.NewSSEHandler(func(*http.Request) *mcp.Server { return server }, nil)
	default:
		h = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	}

	ms := &MCPServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+wellknown.ProtectedResourceMetadataPath+"/mcp", func(w http.ResponseWriter, r *http.Request) {
		if as == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, wellknown.ProtectedResourceMetadata{
			Resource:             ms.Endpoint,
			AuthorizationServers: []string{as.URL},
		})
	})
	mux.Handle("/mcp", requireBearer(as, &ms.Endpoint, h))
	mux.Handle("/mcp/", requireBearer(as, &ms.Endpoint, h))
	ms.Server = httptest.NewServer(mux)
	ms.Endpoint = ms.URL + "/mcp"
	t.Cleanup(ms.Close)
	return ms
}

func requireBearer(as *AuthServer, endpoint *string, next http.Handler) http.Handler {
	if as == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || !as.ValidAccessToken(tok) {
			prm := strings.Replace(*endpoint, "/mcp", wellknown.ProtectedResourceMetadataPath+"/mcp", 1)
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer resource_metadata="%s"`, prm))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
