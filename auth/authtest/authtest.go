// Package authtest provides authenticators for tests and local development.
package authtest

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ggoodman/mcp-session-go/auth"
)

// NoAuth accepts any token. The token itself becomes the user id, so tests
// can act as different users; an empty token maps to DefaultUserID.
type NoAuth struct {
	DefaultUserID string
}

// NewNoAuth creates a NoAuth authenticator. If userID is empty it defaults
// to "test-user".
func NewNoAuth(userID string) *NoAuth {
	if userID == "" {
		userID = "test-user"
	}
	return &NoAuth{DefaultUserID: userID}
}

func (n *NoAuth) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	id := strings.TrimSpace(tok)
	if id == "" {
		id = n.DefaultUserID
	}
	return user(id), nil
}

type user string

func (u user) UserID() string { return string(u) }

func (u user) Claims(ref any) error {
	b, err := json.Marshal(map[string]string{"sub": string(u)})
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
