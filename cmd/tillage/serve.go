package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oriys/tillage/internal/api"
	"github.com/oriys/tillage/internal/auth"
	"github.com/oriys/tillage/internal/cache"
	"github.com/oriys/tillage/internal/config"
	"github.com/oriys/tillage/internal/logging"
	"github.com/oriys/tillage/internal/metrics"
	"github.com/oriys/tillage/internal/observability"
	"github.com/oriys/tillage/internal/ratelimit"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr    string
		autoMigrate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Server.Addr = httpAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()

			if cfg.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Metrics.Namespace, nil)
			}
			if err := observability.Init(ctx, cfg.TelemetryConfig()); err != nil {
				return err
			}
			defer observability.Shutdown(context.Background())

			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if autoMigrate {
				if err := s.Migrate(ctx); err != nil {
					return err
				}
			}

			kvBackend, err := cache.Open(ctx, cfg.CacheConfig())
			if err != nil {
				return err
			}
			defer kvBackend.Close()

			jwtAuth, err := auth.NewJWTAuthenticator(auth.JWTAuthConfig{
				Secret: cfg.Auth.JWTSecret,
				Issuer: cfg.Auth.JWTIssuer,
			})
			if err != nil {
				return err
			}

			limiter, err := newLimiter(cfg, kvBackend)
			if err != nil {
				return err
			}

			httpServer, serveErr := api.StartHTTPServer(cfg.Server.Addr, api.ServerConfig{
				Store:          s,
				KV:             cache.NewTenantStore(kvBackend),
				Authenticators: []auth.Authenticator{jwtAuth},
				PublicPaths:    cfg.Server.PublicPaths,
				Limiter:        limiter,
				MetricsEnabled: cfg.Metrics.Enabled,
			})
			logging.Op().Info("tillage listening",
				"addr", cfg.Server.Addr,
				"kv_backend", kvBackend.Name(),
				"rate_limit", cfg.RateLimit.Enabled,
				"metrics", cfg.Metrics.Enabled,
				"tracing", cfg.Tracing.Enabled)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				logging.Op().Info("shutting down", "signal", sig.String())
			case err := <-serveErr:
				return fmt.Errorf("http server: %w", err)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP address (overrides config)")
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply the schema before serving")

	return cmd
}

// newLimiter shares the KV Redis connection for rate limit buckets when
// there is one. A nil limiter disables rate limiting.
func newLimiter(cfg *config.Config, kv cache.Backend) (*ratelimit.Limiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	var backend ratelimit.Backend = ratelimit.NewLocalBackend()
	if rb, ok := kv.(*cache.RedisBackend); ok {
		backend = ratelimit.NewFallbackBackend(ratelimit.NewRedisBackend(rb.Client()))
	}
	return ratelimit.New(backend, cfg.RateLimitOverrides(), cfg.RateLimitDefault())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Migrate(ctx); err != nil {
				return err
			}
			printer().Success("schema is up to date")
			return nil
		},
	}
}
