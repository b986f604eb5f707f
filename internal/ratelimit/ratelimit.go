// Package ratelimit applies per-tenant token buckets to tenant routes.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/tillage/internal/tenant"
)

// Backend performs one atomic token bucket check.
type Backend interface {
	CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (allowed bool, remaining int, err error)
}

// TierConfig holds the bucket shape for a tenant
type TierConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func (c TierConfig) valid() bool {
	return c.RequestsPerSecond > 0 && c.BurstSize > 0
}

// Limiter rate limits requests per tenant
type Limiter struct {
	backend   Backend
	overrides map[string]TierConfig
	def       TierConfig
}

// New creates a limiter. overrides maps tenant ids to their own bucket
// shape; every other tenant gets def.
func New(backend Backend, overrides map[string]TierConfig, def TierConfig) (*Limiter, error) {
	if !def.valid() {
		return nil, fmt.Errorf("rate limit: requests per second and burst must be positive")
	}
	for id, cfg := range overrides {
		if !cfg.valid() {
			return nil, fmt.Errorf("rate limit: invalid override for tenant %q", id)
		}
	}
	if overrides == nil {
		overrides = make(map[string]TierConfig)
	}
	return &Limiter{backend: backend, overrides: overrides, def: def}, nil
}

// Result contains the result of a rate limit check
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow takes one token from the bucket of tc.
func (l *Limiter) Allow(ctx context.Context, tc tenant.Context) (Result, error) {
	key, err := tenant.Key(tc, "ratelimit")
	if err != nil {
		return Result{}, err
	}
	cfg := l.configFor(tc.TenantID())

	allowed, remaining, err := l.backend.CheckRateLimit(ctx, key, cfg.BurstSize, cfg.RequestsPerSecond, 1)
	if err != nil {
		return Result{}, err
	}

	// Time until the bucket is full again
	tokensNeeded := float64(cfg.BurstSize - remaining)
	refill := time.Duration(tokensNeeded / cfg.RequestsPerSecond * float64(time.Second))

	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   time.Now().Add(refill),
	}, nil
}

func (l *Limiter) configFor(tenantID string) TierConfig {
	if cfg, ok := l.overrides[tenantID]; ok {
		return cfg
	}
	return l.def
}
