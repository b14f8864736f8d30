// Package httpapi exposes session management over HTTP: connecting to a
// remote MCP server, completing its OAuth callback, and listing or calling
// tools through the rehydrated client of a stored session.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-session-go/auth"
	"github.com/ggoodman/mcp-session-go/catalog"
	"github.com/ggoodman/mcp-session-go/internal/logctx"
	"github.com/ggoodman/mcp-session-go/mcpclient"
	"github.com/ggoodman/mcp-session-go/oauth"
	"github.com/ggoodman/mcp-session-go/sessions"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

var (
	jsonMediaType  = contenttype.NewMediaType("application/json")
	jsonMediaTypes = []contenttype.MediaType{jsonMediaType}
)

const (
	// CallbackPath is where authorization servers redirect the user agent.
	CallbackPath = "/api/mcp/auth/callback"

	defaultSuccessPath = "/auth/callback/success"
	defaultRealm       = "mcp-sessions"
	limiterCacheSize   = 4096
)

// Option configures a Handler.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	authn       auth.Authenticator
	catalog     *catalog.Catalog
	successPath string
	realm       string
	callRate    rate.Limit
	callBurst   int
	callTimeout time.Duration
}

func newConfig() *config {
	return &config{
		logger:      slog.Default(),
		successPath: defaultSuccessPath,
		realm:       defaultRealm,
		callRate:    rate.Inf,
		callTimeout: 60 * time.Second,
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithAuthenticator requires a bearer token on every route except the OAuth
// callback and the health check. Sessions are then owned by the user that
// created them.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *config) { c.authn = a }
}

// WithCatalog lets clients connect by server id and enables GET
// /api/mcp/servers.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(c *config) { c.catalog = cat }
}

// WithSuccessPath sets the path, relative to the public base URL, that the
// callback redirects to once authorization finishes.
func WithSuccessPath(p string) Option {
	return func(c *config) { c.successPath = p }
}

// WithToolCallRate limits tool calls per session. A rate of zero or less
// leaves tool calls unlimited.
func WithToolCallRate(r rate.Limit, burst int) Option {
	return func(c *config) {
		if r <= 0 {
			r = rate.Inf
		}
		c.callRate, c.callBurst = r, burst
	}
}

// WithToolCallTimeout bounds how long a single list or call may take.
func WithToolCallTimeout(d time.Duration) Option {
	return func(c *config) { c.callTimeout = d }
}

// Handler serves the session API.
type Handler struct {
	mux         *http.ServeMux
	store       *sessions.Store
	baseURL     *url.URL
	callbackURL string
	log         *slog.Logger
	authn       auth.Authenticator
	catalog     *catalog.Catalog
	successPath string
	realm       string
	callTimeout time.Duration

	callRate  rate.Limit
	callBurst int
	limiters  *lru.Cache[string, *rate.Limiter]
}

// New creates a Handler over store. publicBaseURL is the externally visible
// origin of this service; the OAuth callback URL registered with remote
// authorization servers is derived from it.
func New(store *sessions.Store, publicBaseURL string, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, errors.New("httpapi: store is required")
	}
	base, err := url.Parse(strings.TrimRight(publicBaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, errors.New("httpapi: public base url must be an absolute http(s) url")
	}
	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	limiters, err := lru.New[string, *rate.Limiter](limiterCacheSize)
	if err != nil {
		return nil, err
	}

	lh := cfg.logger.Handler()
	if _, ok := lh.(logctx.Handler); !ok {
		lh = logctx.Handler{Handler: lh}
	}

	h := &Handler{
		mux:         http.NewServeMux(),
		store:       store,
		baseURL:     base,
		callbackURL: base.String() + CallbackPath,
		log:         slog.New(lh),
		authn:       cfg.authn,
		catalog:     cfg.catalog,
		successPath: cfg.successPath,
		realm:       cfg.realm,
		callTimeout: cfg.callTimeout,
		callRate:    cfg.callRate,
		callBurst:   cfg.callBurst,
		limiters:    limiters,
	}

	h.mux.HandleFunc("POST /api/mcp/connect", h.authenticated(h.handleConnect))
	h.mux.HandleFunc("GET "+CallbackPath, h.handleCallback)
	h.mux.HandleFunc("POST "+CallbackPath, h.handleCallback)
	h.mux.HandleFunc("GET /api/mcp/tool/list", h.authenticated(h.handleListTools))
	h.mux.HandleFunc("POST /api/mcp/tool/call", h.authenticated(h.handleCallTool))
	h.mux.HandleFunc("POST /api/mcp/disconnect", h.authenticated(h.handleDisconnect))
	h.mux.HandleFunc("POST /api/mcp/server-config", h.authenticated(h.handleServerConfig))
	h.mux.HandleFunc("GET /api/mcp/sessions/{sessionId}", h.authenticated(h.handleGetSession))
	h.mux.HandleFunc("GET /api/mcp/servers", h.authenticated(h.handleListServers))
	h.mux.HandleFunc("GET /healthz", h.handleHealth)

	return h, nil
}

// CallbackURL is the redirect URI registered for every session.
func (h *Handler) CallbackURL() string { return h.callbackURL }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

type userKey struct{}

// userID returns the authenticated user for the request, or "" when the
// handler runs without authentication.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func (h *Handler) authenticated(next http.HandlerFunc) http.HandlerFunc {
	if h.authn == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if r.Header.Get("Authorization") == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="`+h.realm+`"`)
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			h.log.InfoContext(ctx, "auth.check.missing")
			return
		}
		tok, ok := auth.BearerToken(r)
		if !ok {
			writeJSONError(w, http.StatusBadRequest, "malformed authorization header")
			h.log.InfoContext(ctx, "auth.check.malformed")
			return
		}
		user, err := h.authn.CheckAuthentication(ctx, tok)
		if err != nil {
			ch := auth.ChallengeFor(h.realm, err)
			w.Header().Set("WWW-Authenticate", ch.WWWAuthenticate)
			writeJSONError(w, ch.Status, http.StatusText(ch.Status))
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			return
		}
		ctx = context.WithValue(ctx, userKey{}, user.UserID())
		next(w, r.WithContext(ctx))
	}
}

// session loads the record for id and enforces ownership. It writes the
// error response itself and returns nil when the caller should stop.
func (h *Handler) session(w http.ResponseWriter, r *http.Request, id string) *sessions.Record {
	ctx := r.Context()
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "sessionId is required")
		return nil
	}
	rec, err := h.store.GetSession(ctx, id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load session")
		h.log.ErrorContext(ctx, "session.load.fail", slog.String("session_id", id), slog.String("err", err.Error()))
		return nil
	}
	if rec == nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return nil
	}
	if user := userID(ctx); user != "" && rec.UserID != "" && rec.UserID != user {
		// Other users see the session as missing.
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.WarnContext(ctx, "session.owner.mismatch", slog.String("session_id", id))
		return nil
	}
	return rec
}

type connectRequest struct {
	ServerID      string                  `json:"serverId,omitempty"`
	ServerURL     string                  `json:"serverUrl,omitempty"`
	TransportType mcpclient.TransportType `json:"transportType,omitempty"`
	CallbackURL   string                  `json:"callbackUrl,omitempty"`
}

type connectResponse struct {
	SessionID        string `json:"sessionId"`
	State            string `json:"state"`
	RequiresAuth     bool   `json:"requiresAuth"`
	AuthorizationURL string `json:"authorizationUrl,omitempty"`
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req connectRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	params := sessions.SetClientParams{
		ServerURL:     req.ServerURL,
		TransportType: req.TransportType,
		CallbackURL:   h.callbackURL,
		UserID:        userID(ctx),
	}
	if req.ServerID != "" {
		if h.catalog == nil {
			writeJSONError(w, http.StatusBadRequest, "serverId requires a server catalog")
			return
		}
		srv, err := h.catalog.Lookup(req.ServerID)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, err.Error())
			return
		}
		params.ServerID, params.ServerName, params.ServerURL = srv.ID, srv.Name, srv.URL
		if params.TransportType == "" {
			params.TransportType = srv.Transport
		}
	}
	if params.ServerURL == "" {
		writeJSONError(w, http.StatusBadRequest, "serverUrl or serverId is required")
		return
	}
	if params.TransportType == "" {
		params.TransportType = mcpclient.TransportStreamableHTTP
	}
	if req.CallbackURL != "" {
		params.CallbackURL = req.CallbackURL
	}

	id := h.store.GenerateSessionID()
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: id,
		UserID:    params.UserID,
		ServerURL: params.ServerURL,
		Transport: string(params.TransportType),
	})
	if _, err := h.store.SetClient(ctx, id, params); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		h.log.InfoContext(ctx, "connect.invalid", slog.String("err", err.Error()))
		return
	}

	authURL, err := h.store.BeginAuthorization(ctx, id)
	if err != nil {
		h.store.RemoveSession(ctx, id)
		writeJSONError(w, http.StatusBadGateway, "failed to connect to server: "+err.Error())
		h.log.WarnContext(ctx, "connect.fail", slog.String("err", err.Error()))
		return
	}

	resp := connectResponse{SessionID: id, State: "connected"}
	if authURL != nil {
		resp.State = "authorizing"
		resp.RequiresAuth = true
		resp.AuthorizationURL = authURL.String()
	}
	h.log.InfoContext(ctx, "connect.ok", slog.Bool("requires_auth", resp.RequiresAuth))
	writeJSON(w, http.StatusOK, resp)
}

// handleCallback receives the authorization server redirect. The state
// parameter is the session id. The user agent is always redirected to the
// success page, with step=error when anything failed.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		h.redirectError(w, r, "malformed callback request")
		return
	}
	if e := r.Form.Get("error"); e != "" {
		msg := e
		if d := r.Form.Get("error_description"); d != "" {
			msg += ": " + d
		}
		if id := r.Form.Get("state"); id != "" {
			h.store.RemoveSession(ctx, id)
		}
		h.log.InfoContext(ctx, "callback.denied", slog.String("error", e))
		h.redirectError(w, r, msg)
		return
	}
	code, id := r.Form.Get("code"), r.Form.Get("state")
	if code == "" || id == "" {
		h.redirectError(w, r, "missing code or state")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: id})
	rec, err := h.store.CompleteAuthorization(ctx, id, code)
	if err != nil {
		h.log.WarnContext(ctx, "callback.fail", slog.String("err", err.Error()))
		switch {
		case errors.Is(err, sessions.ErrSessionNotFound):
			h.redirectError(w, r, "session not found or expired")
		case errors.Is(err, sessions.ErrInvalidState):
			h.redirectError(w, r, "session is already authorized")
		default:
			h.redirectError(w, r, "authorization failed: "+err.Error())
		}
		return
	}
	if rec == nil {
		h.redirectError(w, r, "session not found or expired")
		return
	}

	q := url.Values{}
	q.Set("step", "success")
	q.Set("sessionId", rec.SessionID)
	q.Set("serverUrl", rec.ServerURL)
	if rec.ServerName != "" {
		q.Set("server", rec.ServerName)
	}
	if rec.ServerID != "" {
		q.Set("serverId", rec.ServerID)
	}
	h.log.InfoContext(ctx, "callback.ok")
	http.Redirect(w, r, h.successURL(q), http.StatusFound)
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, msg string) {
	q := url.Values{}
	q.Set("step", "error")
	q.Set("error", msg)
	http.Redirect(w, r, h.successURL(q), http.StatusFound)
}

func (h *Handler) successURL(q url.Values) string {
	return h.baseURL.String() + h.successPath + "?" + q.Encode()
}

// client rehydrates the session's client and makes sure it holds usable
// tokens. Sessions whose refresh grant was rejected are removed.
func (h *Handler) client(w http.ResponseWriter, r *http.Request, rec *sessions.Record) *sessions.Client {
	ctx := r.Context()
	c, err := h.store.GetClient(ctx, rec.SessionID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to restore session")
		h.log.ErrorContext(ctx, "client.rehydrate.fail", slog.String("err", err.Error()))
		return nil
	}
	if c == nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return nil
	}
	if rec.Tokens != nil {
		ok, err := c.GetValidTokens(ctx)
		if oauth.IsInvalidGrant(err) {
			c.Disconnect()
			h.store.RemoveSession(ctx, rec.SessionID)
			writeReauth(w, "authorization expired; reconnect the server")
			h.log.InfoContext(ctx, "client.tokens.invalid_grant")
			return nil
		}
		if err != nil || !ok {
			c.Disconnect()
			writeReauth(w, "no valid tokens for session")
			return nil
		}
	}
	if !c.Connected() {
		c.Disconnect()
		if rec.Tokens == nil {
			writeReauth(w, "session is not authorized")
			return nil
		}
		if c.AuthorizationRequired() {
			writeReauth(w, "server rejected the session's credentials")
			h.log.InfoContext(ctx, "client.tokens.rejected")
			return nil
		}
		writeJSONError(w, http.StatusBadGateway, "failed to connect to server")
		return nil
	}
	return c
}

func (h *Handler) handleListTools(w http.ResponseWriter, r *http.Request) {
	rec := h.session(w, r, r.URL.Query().Get("sessionId"))
	if rec == nil {
		return
	}
	r = r.WithContext(h.sessionContext(r.Context(), rec))
	c := h.client(w, r, rec)
	if c == nil {
		return
	}
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(r.Context(), h.callTimeout)
	defer cancel()
	tools, err := c.ListTools(ctx)
	if err != nil {
		h.log.WarnContext(ctx, "tools.list.fail", slog.String("err", err.Error()))
		if errors.Is(err, oauth.ErrAuthorizationRequired) {
			writeReauth(w, "server rejected the session's credentials")
			return
		}
		writeJSONError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

type callRequest struct {
	SessionID string         `json:"sessionId"`
	ToolName  string         `json:"toolName"`
	ToolArgs  map[string]any `json:"toolArgs,omitempty"`
}

type callResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ToolName   string `json:"toolName"`
	ServerName string `json:"serverName"`
	Result     any    `json:"result"`
	Error      string `json:"error,omitempty"`
}

func (h *Handler) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.ToolName == "" {
		writeJSONError(w, http.StatusBadRequest, "toolName is required")
		return
	}
	rec := h.session(w, r, req.SessionID)
	if rec == nil {
		return
	}
	ctx := logctx.WithToolCallData(h.sessionContext(r.Context(), rec), &logctx.ToolCallData{ToolName: req.ToolName})
	r = r.WithContext(ctx)

	if !h.limiter(rec.SessionID).Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusTooManyRequests, "tool call rate exceeded")
		h.log.InfoContext(ctx, "tools.call.rate_limited")
		return
	}

	c := h.client(w, r, rec)
	if c == nil {
		return
	}
	defer c.Disconnect()

	serverName := rec.ServerName
	if serverName == "" {
		serverName = rec.ServerURL
	}
	out := callResult{ToolName: req.ToolName, ServerName: serverName}

	callCtx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()
	res, err := c.CallTool(callCtx, req.ToolName, req.ToolArgs)
	switch {
	case err != nil:
		h.log.WarnContext(ctx, "tools.call.fail", slog.String("err", err.Error()))
		if errors.Is(err, oauth.ErrAuthorizationRequired) {
			writeReauth(w, "server rejected the session's credentials")
			return
		}
		out.Message = "Tool call failed"
		out.Error = err.Error()
	case res.IsError:
		out.Message = "Tool returned an error"
		out.Result = res
		out.Error = "tool reported an error"
	default:
		out.Success = true
		out.Message = "Tool executed successfully"
		out.Result = res
	}
	h.log.InfoContext(ctx, "tools.call.done", slog.Bool("success", out.Success))
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"callMcpServerTool": out}})
}

func (h *Handler) limiter(sessionID string) *rate.Limiter {
	if l, ok := h.limiters.Get(sessionID); ok {
		return l
	}
	l := rate.NewLimiter(h.callRate, h.callBurst)
	if prev, ok, _ := h.limiters.PeekOrAdd(sessionID, l); ok {
		return prev
	}
	return l
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}
	rec := h.session(w, r, req.SessionID)
	if rec == nil {
		return
	}
	ctx := h.sessionContext(r.Context(), rec)
	h.store.RemoveSession(ctx, rec.SessionID)
	h.limiters.Remove(rec.SessionID)
	h.log.InfoContext(ctx, "disconnect.ok")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Disconnected successfully"})
}

type serverEntry struct {
	Transport mcpclient.TransportType `json:"transport"`
	URL       string                  `json:"url"`
	SessionID string                  `json:"sessionId,omitempty"`
}

type serverConfigEntry struct {
	Transport mcpclient.TransportType `json:"transport"`
	URL       string                  `json:"url"`
	Headers   map[string]string       `json:"headers,omitempty"`
}

// handleServerConfig resolves a map of named servers, each referring to a
// session, into connection settings carrying the session's bearer token.
// Entries whose session is missing, owned by someone else or holds no
// usable token are returned without headers.
func (h *Handler) handleServerConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MCPConfig map[string]serverEntry `json:"mcpConfig"`
	}
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.MCPConfig == nil {
		writeJSONError(w, http.StatusBadRequest, "mcpConfig is required")
		return
	}

	out := make(map[string]serverConfigEntry, len(req.MCPConfig))
	for name, e := range req.MCPConfig {
		entry := serverConfigEntry{Transport: e.Transport, URL: e.URL}
		if tok := h.accessToken(r.Context(), name, e.SessionID); tok != "" {
			entry.Headers = map[string]string{"Authorization": "Bearer " + tok}
		}
		out[name] = entry
	}
	writeJSON(w, http.StatusOK, map[string]any{"serverConfig": out})
}

// accessToken returns a valid access token for the session, refreshing it
// when needed, or "" when none can be had.
func (h *Handler) accessToken(ctx context.Context, name, id string) string {
	if id == "" {
		h.log.InfoContext(ctx, "server_config.no_session", slog.String("server", name))
		return ""
	}
	rec, err := h.store.GetSession(ctx, id)
	if err != nil {
		h.log.WarnContext(ctx, "server_config.load.fail", slog.String("server", name), slog.String("err", err.Error()))
		return ""
	}
	if rec == nil || rec.Tokens == nil {
		h.log.InfoContext(ctx, "server_config.not_authorized", slog.String("server", name))
		return ""
	}
	if user := userID(ctx); user != "" && rec.UserID != "" && rec.UserID != user {
		h.log.WarnContext(ctx, "session.owner.mismatch", slog.String("session_id", id))
		return ""
	}

	ctx = h.sessionContext(ctx, rec)
	c, err := h.store.GetClient(ctx, id)
	if err != nil || c == nil {
		return ""
	}
	defer c.Disconnect()
	if c.AuthorizationRequired() {
		h.log.InfoContext(ctx, "server_config.tokens.rejected", slog.String("server", name))
		return ""
	}
	ok, err := c.GetValidTokens(ctx)
	if err != nil || !ok {
		h.log.InfoContext(ctx, "server_config.tokens.unavailable", slog.String("server", name))
		return ""
	}
	toks, err := c.Provider().Tokens(ctx)
	if err != nil || toks == nil {
		return ""
	}
	return toks.AccessToken
}

// SessionSummary is the externally visible view of a session. It never
// carries credentials.
type SessionSummary struct {
	SessionID      string                  `json:"sessionId"`
	State          string                  `json:"state"`
	ServerURL      string                  `json:"serverUrl"`
	ServerID       string                  `json:"serverId,omitempty"`
	ServerName     string                  `json:"serverName,omitempty"`
	TransportType  mcpclient.TransportType `json:"transportType"`
	CreatedAt      time.Time               `json:"createdAt"`
	TokenExpiresAt *time.Time              `json:"tokenExpiresAt,omitempty"`
}

// Summarize returns the summary of rec.
func Summarize(rec *sessions.Record) SessionSummary {
	s := SessionSummary{
		SessionID:     rec.SessionID,
		State:         rec.State().String(),
		ServerURL:     rec.ServerURL,
		ServerID:      rec.ServerID,
		ServerName:    rec.ServerName,
		TransportType: rec.TransportType,
		CreatedAt:     time.UnixMilli(rec.CreatedAt).UTC(),
	}
	if rec.TokenExpiresAt != nil {
		at := time.UnixMilli(*rec.TokenExpiresAt).UTC()
		s.TokenExpiresAt = &at
	}
	return s
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if !acceptsJSON(w, r) {
		return
	}
	rec := h.session(w, r, r.PathValue("sessionId"))
	if rec == nil {
		return
	}
	writeJSON(w, http.StatusOK, Summarize(rec))
}

func (h *Handler) handleListServers(w http.ResponseWriter, r *http.Request) {
	if !acceptsJSON(w, r) {
		return
	}
	servers := []catalog.Server{}
	if h.catalog != nil {
		servers = h.catalog.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": servers})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.log.ErrorContext(ctx, "health.store.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) sessionContext(ctx context.Context, rec *sessions.Record) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: rec.SessionID,
		UserID:    rec.UserID,
		ServerURL: rec.ServerURL,
		Transport: string(rec.TransportType),
	})
}

func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ctx := r.Context()
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		h.log.InfoContext(ctx, "request.decode.fail", slog.String("err", err.Error()))
		return false
	}
	return true
}

func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "only application/json responses are available")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

func writeReauth(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnauthorized, map[string]any{
		"error":          map[string]any{"code": http.StatusUnauthorized, "message": msg},
		"requiresReauth": true,
	})
}
