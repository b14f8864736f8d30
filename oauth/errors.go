package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthorizationRequired means the remote server rejected the request
	// for lack of valid credentials and the user must (re)authorize.
	ErrAuthorizationRequired = errors.New("oauth: authorization required")

	// ErrCodeVerifierNotFound means a code exchange was attempted without a
	// saved PKCE verifier.
	ErrCodeVerifierNotFound = errors.New("oauth: no code verifier found")

	// ErrNoClientInformation means no registered client is available for a
	// token request.
	ErrNoClientInformation = errors.New("oauth: no client information")
)

// Error codes from RFC 6749 section 5.2 and RFC 7591 section 3.2.2.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidGrant         = "invalid_grant"
	CodeUnauthorizedClient   = "unauthorized_client"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeInvalidScope         = "invalid_scope"
	CodeInvalidClientMeta    = "invalid_client_metadata"
	CodeInvalidRedirectURI   = "invalid_redirect_uri"
	CodeServerError          = "server_error"
)

// ProtocolError is an error response from an authorization server.
type ProtocolError struct {
	// Op names the request that failed: "register", "exchange", "refresh" or
	// "discover".
	Op          string
	Code        string
	Description string
	URI         string
	StatusCode  int
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("oauth %s failed", e.Op)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Code == "" && e.StatusCode != 0 {
		msg += fmt.Sprintf(": http status %d", e.StatusCode)
	}
	return msg
}

// IsInvalidGrant reports whether err is an authorization server rejection of
// a grant (expired or revoked refresh token, reused code). Sessions that hit
// it cannot recover without a new authorization.
func IsInvalidGrant(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == CodeInvalidGrant
	}
	return false
}
