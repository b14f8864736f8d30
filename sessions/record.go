package sessions

import (
	"github.com/ggoodman/mcp-session-go/mcpclient"
	"github.com/ggoodman/mcp-session-go/oauth"
)

// Record is the persisted state of one session.
type Record struct {
	SessionID     string                  `json:"sessionId"`
	ServerURL     string                  `json:"serverUrl"`
	CallbackURL   string                  `json:"callbackUrl"`
	TransportType mcpclient.TransportType `json:"transportType"`
	// CreatedAt is milliseconds since the Unix epoch, set once.
	CreatedAt int64 `json:"createdAt"`
	Active    bool  `json:"active"`

	ServerID   string `json:"serverId,omitempty"`
	ServerName string `json:"serverName,omitempty"`
	// UserID is the application user that created the session, when the
	// API runs with authentication.
	UserID string `json:"userId,omitempty"`

	Tokens            *oauth.Tokens            `json:"tokens,omitempty"`
	ClientInformation *oauth.ClientInformation `json:"clientInformation,omitempty"`
	ClientID          string                   `json:"clientId,omitempty"`
	CodeVerifier      string                   `json:"codeVerifier,omitempty"`
	// TokenExpiresAt is milliseconds since the Unix epoch, derived from
	// Tokens.ExpiresIn minus a safety buffer when the tokens were saved.
	TokenExpiresAt *int64 `json:"tokenExpiresAt,omitempty"`
}

// State is the lifecycle position of a session.
type State int

const (
	StateAbsent State = iota
	StateCreated
	StateRegistering
	StateAuthorizing
	StateActive
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRegistering:
		return "registering"
	case StateAuthorizing:
		return "authorizing"
	case StateActive:
		return "active"
	default:
		return "absent"
	}
}

// State derives the lifecycle state from the fields r carries. A nil record
// is Absent.
func (r *Record) State() State {
	switch {
	case r == nil:
		return StateAbsent
	case r.Tokens != nil:
		return StateActive
	case r.CodeVerifier != "":
		return StateAuthorizing
	case r.ClientInformation != nil:
		return StateRegistering
	default:
		return StateCreated
	}
}

// AwaitingCallback reports whether an authorization code can be redeemed for
// this session.
func (r *Record) AwaitingCallback() bool {
	return r.State() == StateAuthorizing
}
