package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/oriys/tillage/internal/api/controlplane"
	"github.com/oriys/tillage/internal/api/farm"
	"github.com/oriys/tillage/internal/api/respond"
	"github.com/oriys/tillage/internal/auth"
	"github.com/oriys/tillage/internal/authz"
	"github.com/oriys/tillage/internal/cache"
	"github.com/oriys/tillage/internal/logging"
	"github.com/oriys/tillage/internal/metrics"
	"github.com/oriys/tillage/internal/modules"
	"github.com/oriys/tillage/internal/observability"
	"github.com/oriys/tillage/internal/ratelimit"
	"github.com/oriys/tillage/internal/store"
)

// DefaultPublicPaths skip authentication.
var DefaultPublicPaths = []string{"/health", "/metrics"}

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Store          *store.Store
	KV             *cache.TenantStore
	Authenticators []auth.Authenticator
	PublicPaths    []string
	Rules          []authz.Rule
	Limiter        *ratelimit.Limiter
	MetricsEnabled bool
}

// NewHandler assembles the routes and the middleware chain.
func NewHandler(cfg ServerConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler(cfg))
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", metrics.PrometheusHandler())
	}

	rules := cfg.Rules
	if rules == nil {
		rules = authz.DefaultRules
	}

	// Register control plane routes
	cpHandler := &controlplane.Handler{Store: cfg.Store}
	cpHandler.RegisterRoutes(mux)

	// Register farm routes
	farmHandler := &farm.Handler{
		Store:      cfg.Store,
		KV:         cfg.KV,
		Gate:       modules.NewGate(cfg.Store.Entitlements),
		Authorizer: authz.New(rules),
		Limiter:    cfg.Limiter,
	}
	farmHandler.RegisterRoutes(mux)

	publicPaths := cfg.PublicPaths
	if publicPaths == nil {
		publicPaths = DefaultPublicPaths
	}

	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Authenticators, publicPaths)(handler)
	handler = requestMetrics(handler)
	handler = observability.HTTPMiddleware(handler)
	return handler
}

// StartHTTPServer creates and starts the HTTP server. The returned channel
// receives the error if the server stops for any reason other than Shutdown.
func StartHTTPServer(addr string, cfg ServerConfig) (*http.Server, <-chan error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Op().Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	return server, errCh
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.IncActiveRequests()
		defer metrics.DecActiveRequests()

		rec := &observability.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.RecordHTTPRequest(r.Method, rec.Status)
	})
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		status := http.StatusOK
		if err := cfg.Store.Ping(ctx); err != nil {
			checks["postgres"] = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			checks["postgres"] = "ok"
		}
		if cfg.KV != nil {
			backend := cfg.KV.Backend()
			if err := backend.Ping(ctx); err != nil {
				checks["kv"] = "unavailable"
				status = http.StatusServiceUnavailable
			} else {
				checks["kv"] = backend.Name()
			}
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		respond.JSON(w, status, map[string]any{
			"status": state,
			"checks": checks,
			"uptime": time.Since(metrics.StartTime()).Round(time.Second).String(),
		})
	}
}
