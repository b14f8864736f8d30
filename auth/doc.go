// Package auth authenticates the application users that own MCP sessions.
// The session API accepts a bearer JWT issued by the application's own
// identity provider; the resulting user id is attached to every session a
// user creates, and only that user may use or inspect it afterwards.
//
// NewFromDiscovery validates tokens using OpenID Connect discovery on the
// issuer. NewFromJWKS skips discovery and uses a fixed JWKS URL. Both accept
// functional options for scopes, algorithms and leeway.
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://id.example", "mcp-session-api",
//	    auth.WithRequiredScopes("mcp:connect"),
//	)
//	ui, err := authn.CheckAuthentication(r.Context(), bearerToken)
//	if errors.Is(err, auth.ErrUnauthorized) { /* 401 */ }
//	if errors.Is(err, auth.ErrInsufficientScope) { /* 403 */ }
package auth
