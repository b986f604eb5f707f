package ratelimit

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/tillage/internal/logging"
)

// recheckInterval is the minimum time between health checks of the primary.
const recheckInterval = 5 * time.Second

// FallbackBackend uses a primary (normally Redis) backend and switches to
// process-local buckets while the primary errors. It rechecks the primary in
// the background and switches back once it answers again.
type FallbackBackend struct {
	primary   Backend
	local     *LocalBackend
	degraded  atomic.Bool
	lastCheck atomic.Int64 // unix nanoseconds
	checking  sync.Mutex
}

// NewFallbackBackend wraps primary with a local fallback.
func NewFallbackBackend(primary Backend) *FallbackBackend {
	return &FallbackBackend{primary: primary, local: NewLocalBackend()}
}

// CheckRateLimit implements Backend.
func (f *FallbackBackend) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	if f.degraded.Load() {
		if time.Since(time.Unix(0, f.lastCheck.Load())) > recheckInterval {
			go f.recheck(context.WithoutCancel(ctx))
		}
		return f.local.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	}

	allowed, remaining, err := f.primary.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	if err != nil {
		logging.Op().Warn("rate limit backend unavailable, using local buckets", "error", err)
		f.lastCheck.Store(time.Now().UnixNano())
		f.degraded.Store(true)
		return f.local.CheckRateLimit(ctx, key, maxTokens, refillRate, requested)
	}
	return allowed, remaining, nil
}

func (f *FallbackBackend) recheck(ctx context.Context) {
	if !f.checking.TryLock() {
		return
	}
	defer f.checking.Unlock()

	f.lastCheck.Store(time.Now().UnixNano())
	if _, _, err := f.primary.CheckRateLimit(ctx, "health", 1, 1, 0); err == nil {
		logging.Op().Info("rate limit backend recovered")
		f.degraded.Store(false)
	}
}

// Degraded reports whether local buckets are in use.
func (f *FallbackBackend) Degraded() bool {
	return f.degraded.Load()
}

// LocalBackend keeps token buckets in process memory.
type LocalBackend struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	now     func() time.Time
}

type localBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewLocalBackend creates an empty in-memory bucket store.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{buckets: make(map[string]*localBucket), now: time.Now}
}

// CheckRateLimit implements Backend.
func (l *LocalBackend) CheckRateLimit(_ context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{tokens: float64(maxTokens), lastRefill: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(float64(maxTokens), b.tokens+elapsed*refillRate)
		b.lastRefill = now
	}

	if b.tokens >= float64(requested) {
		b.tokens -= float64(requested)
		return true, int(b.tokens), nil
	}
	return false, int(b.tokens), nil
}
