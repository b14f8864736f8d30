// Package config loads the session service configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	redisstore "github.com/ggoodman/mcp-session-go/storage/redis"
	"github.com/joeshaw/envdecode"
)

// Storage backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config is the complete service configuration. Every field can be set from
// the environment; defaults live in the struct tags.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR,default=:8080"`
	// PublicBaseURL is the externally visible origin of the service. OAuth
	// callback URLs and post-callback redirects are built from it.
	PublicBaseURL string `env:"PUBLIC_BASE_URL,default=http://localhost:8080"`
	// CallbackSuccessPath is where the browser lands after the OAuth
	// callback has been handled.
	CallbackSuccessPath string `env:"CALLBACK_SUCCESS_PATH,default=/auth/callback/success"`

	StorageBackend string `env:"STORAGE_BACKEND,default=redis"`
	MemoryMaxItems int    `env:"MEMORY_MAX_ITEMS,default=10000"`
	Redis          redisstore.Config

	SessionTTL       time.Duration `env:"SESSION_TTL,default=12h"`
	SessionKeyPrefix string        `env:"SESSIONS_KEY_PREFIX,default=mcp:session:"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL,default=10m"`

	ClientName    string `env:"MCP_CLIENT_NAME,default=MCP Session Client"`
	ClientVersion string `env:"MCP_CLIENT_VERSION,default=v0.1.0"`

	// AuthIssuer enables bearer authentication of API callers when set.
	AuthIssuer   string `env:"AUTH_ISSUER"`
	AuthAudience string `env:"AUTH_AUDIENCE"`
	// AuthJWKSURL skips OIDC discovery on AuthIssuer.
	AuthJWKSURL string `env:"AUTH_JWKS_URL"`

	CatalogPath string `env:"CATALOG_PATH"`

	// ToolCallRate is per session and second; zero or less disables limiting.
	ToolCallRate  float64 `env:"TOOL_CALL_RATE,default=5"`
	ToolCallBurst int     `env:"TOOL_CALL_BURST,default=10"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
}

// Load decodes the configuration from the environment and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("config: unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	u, err := url.Parse(c.PublicBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: invalid PUBLIC_BASE_URL %q", c.PublicBaseURL)
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}
	if c.AuthIssuer != "" && c.AuthAudience == "" {
		return errors.New("config: AUTH_AUDIENCE is required with AUTH_ISSUER")
	}
	if !strings.HasPrefix(c.CallbackSuccessPath, "/") {
		return fmt.Errorf("config: CALLBACK_SUCCESS_PATH must start with /")
	}
	return nil
}

// CallbackURL is the OAuth redirect URI registered with remote authorization
// servers.
func (c *Config) CallbackURL() string {
	return strings.TrimSuffix(c.PublicBaseURL, "/") + "/api/mcp/auth/callback"
}

// SlogLevel parses LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
