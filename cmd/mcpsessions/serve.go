package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/mcp-session-go/auth"
	"github.com/ggoodman/mcp-session-go/catalog"
	"github.com/ggoodman/mcp-session-go/httpapi"
	"github.com/ggoodman/mcp-session-go/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session HTTP API",
		Long: `Run the session HTTP API.

Environment:
  LISTEN_ADDR            address to listen on (default :8080)
  PUBLIC_BASE_URL        externally visible origin used for OAuth callbacks
  CALLBACK_SUCCESS_PATH  page the browser lands on after the callback
  STORAGE_BACKEND        redis or memory (default redis)
  REDIS_URL, REDIS_ADDR  Redis connection
  SESSION_TTL            sliding session lifetime (default 12h)
  CLEANUP_INTERVAL       how often orphaned keys are removed (default 10m)
  AUTH_ISSUER            enables bearer authentication of API callers
  AUTH_AUDIENCE          required audience when AUTH_ISSUER is set
  AUTH_JWKS_URL          skips OIDC discovery on AUTH_ISSUER
  CATALOG_PATH           JSON server catalog, reloaded on change
  TOOL_CALL_RATE         tool calls per second per session
  LOG_LEVEL, LOG_FORMAT  debug|info|warn|error, json|text`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, log, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []httpapi.Option{
		httpapi.WithLogger(log),
		httpapi.WithSuccessPath(cfg.CallbackSuccessPath),
		httpapi.WithToolCallRate(rate.Limit(cfg.ToolCallRate), cfg.ToolCallBurst),
	}

	authn, err := newAuthenticator(ctx, cfg)
	if err != nil {
		return err
	}
	if authn != nil {
		opts = append(opts, httpapi.WithAuthenticator(authn))
	} else {
		log.WarnContext(ctx, "serve.auth.disabled")
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.CatalogPath != "" {
		cat, err := catalog.Load(cfg.CatalogPath, catalog.WithLogger(log))
		if err != nil {
			return err
		}
		opts = append(opts, httpapi.WithCatalog(cat))
		g.Go(func() error { return cat.Watch(ctx) })
	}

	h, err := httpapi.New(store, cfg.PublicBaseURL, opts...)
	if err != nil {
		return err
	}

	g.Go(func() error {
		store.RunCleanup(ctx, cfg.CleanupInterval)
		return nil
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.InfoContext(ctx, "serve.listen", slog.String("addr", cfg.ListenAddr), slog.String("callback_url", h.CallbackURL()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		log.InfoContext(shutdownCtx, "serve.shutdown")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newAuthenticator(ctx context.Context, cfg *config.Config) (auth.Authenticator, error) {
	if cfg.AuthIssuer == "" {
		return nil, nil
	}
	var (
		a   auth.Authenticator
		err error
	)
	if cfg.AuthJWKSURL != "" {
		a, err = auth.NewFromJWKS(ctx, cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthJWKSURL)
	} else {
		a, err = auth.NewFromDiscovery(ctx, cfg.AuthIssuer, cfg.AuthAudience)
	}
	if err != nil {
		return nil, fmt.Errorf("configure authentication: %w", err)
	}
	return a, nil
}
