package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ggoodman/mcp-session-go/internal/config"
	"github.com/ggoodman/mcp-session-go/internal/logctx"
	"github.com/ggoodman/mcp-session-go/mcpclient"
	"github.com/ggoodman/mcp-session-go/sessions"
	"github.com/ggoodman/mcp-session-go/storage"
	"github.com/ggoodman/mcp-session-go/storage/memory"
	redisstore "github.com/ggoodman/mcp-session-go/storage/redis"
	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mcpsessions",
		Short: "OAuth-authorized sessions to remote MCP servers",
		Long: `mcpsessions connects to remote MCP servers on behalf of users,
persists each connection's OAuth state in Redis and rebuilds
clients from it on demand.

Configuration is read from the environment. See "serve --help".`,
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newSessionsCmd(), newCatalogCmd())
	return root
}

// newLogger builds the process logger. Request, session and tool call data
// carried on the context are added to every record.
func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(logctx.Handler{Handler: h})
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return memory.New(cfg.MemoryMaxItems)
	case config.BackendRedis:
		return redisstore.New(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// openStore loads configuration and opens the session store it describes.
func openStore(ctx context.Context) (*config.Config, *slog.Logger, *sessions.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log := newLogger(cfg)
	kv, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}
	store := sessions.New(kv,
		sessions.WithLogger(log),
		sessions.WithTTL(cfg.SessionTTL),
		sessions.WithKeyPrefix(cfg.SessionKeyPrefix),
		sessions.WithClientName(cfg.ClientName),
		sessions.WithClientOptions(mcpclient.WithImplementation(cfg.ClientName, cfg.ClientVersion)),
	)
	return cfg, log, store, nil
}
