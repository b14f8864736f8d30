package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "mcp:session:", cfg.SessionKeyPrefix)
	assert.Equal(t, "/auth/callback/success", cfg.CallbackSuccessPath)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "http://localhost:8080/api/mcp/auth/callback", cfg.CallbackURL())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6380/2")
	t.Setenv("PUBLIC_BASE_URL", "https://app.example/")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("LOG_LEVEL", "debug")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6380/2", cfg.Redis.URL)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, "https://app.example/api/mcp/auth/callback", cfg.CallbackURL())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			StorageBackend:      BackendMemory,
			PublicBaseURL:       "https://app.example",
			SessionTTL:          time.Hour,
			CallbackSuccessPath: "/done",
		}
	}
	cfg := base()
	require.NoError(t, cfg.Validate())

	cfg = base()
	cfg.StorageBackend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.PublicBaseURL = "app.example"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.AuthIssuer = "https://id.example"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.CallbackSuccessPath = "done"
	assert.Error(t, cfg.Validate())
}
