package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrInsufficientScope indicates the caller authenticated but lacks required scope.
var ErrInsufficientScope = errors.New("insufficient scope")

// UserInfo represents an authenticated principal.
type UserInfo interface {
	// UserID returns the unique identifier for the user.
	UserID() string
	// Claims unmarshalls the user's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", false
	}
	return strings.TrimSpace(tok), true
}

// Challenge describes the HTTP response for a failed authentication.
type Challenge struct {
	Status          int
	WWWAuthenticate string
}

// ChallengeFor maps an authentication error to its HTTP challenge.
func ChallengeFor(realm string, err error) Challenge {
	switch {
	case err == nil:
		return Challenge{}
	case errors.Is(err, ErrInsufficientScope):
		return Challenge{
			Status:          http.StatusForbidden,
			WWWAuthenticate: fmt.Sprintf(`Bearer realm=%q, error="insufficient_scope"`, realm),
		}
	case errors.Is(err, ErrUnauthorized):
		return Challenge{
			Status:          http.StatusUnauthorized,
			WWWAuthenticate: fmt.Sprintf(`Bearer realm=%q, error="invalid_token"`, realm),
		}
	default:
		return Challenge{
			Status:          http.StatusUnauthorized,
			WWWAuthenticate: fmt.Sprintf(`Bearer realm=%q`, realm),
		}
	}
}
