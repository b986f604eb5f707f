package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/tillage/internal/tenant"
)

func mustTenant(t *testing.T, id string) tenant.Context {
	t.Helper()
	tc, err := tenant.Normalize(id, "user")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	return tc
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(NewLocalBackend(), nil, TierConfig{}); err == nil {
		t.Fatal("expected error for zero default")
	}
	if _, err := New(NewLocalBackend(), map[string]TierConfig{"t1": {RequestsPerSecond: 1}}, TierConfig{RequestsPerSecond: 1, BurstSize: 1}); err == nil {
		t.Fatal("expected error for invalid override")
	}
}

func TestLimiterPerTenantBuckets(t *testing.T) {
	l, err := New(NewLocalBackend(),
		map[string]TierConfig{"big": {RequestsPerSecond: 0.001, BurstSize: 3}},
		TierConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	small := mustTenant(t, "small")
	if r, _ := l.Allow(ctx, small); !r.Allowed {
		t.Fatal("first request should pass")
	}
	if r, _ := l.Allow(ctx, small); r.Allowed {
		t.Fatal("second request should be limited")
	}

	big := mustTenant(t, "big")
	for i := 0; i < 3; i++ {
		if r, _ := l.Allow(ctx, big); !r.Allowed {
			t.Fatalf("override tenant request %d should pass", i)
		}
	}
}

func TestLimiterRejectsInvalidTenant(t *testing.T) {
	l, _ := New(NewLocalBackend(), nil, TierConfig{RequestsPerSecond: 1, BurstSize: 1})
	if _, err := l.Allow(context.Background(), tenant.Context{}); !errors.Is(err, tenant.ErrInvalidTenantContext) {
		t.Fatalf("expected ErrInvalidTenantContext, got %v", err)
	}
}

func TestLocalBackendRefill(t *testing.T) {
	b := NewLocalBackend()
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }

	b.CheckRateLimit(context.Background(), "k", 2, 1, 2)
	if ok, _, _ := b.CheckRateLimit(context.Background(), "k", 2, 1, 1); ok {
		t.Fatal("bucket should be empty")
	}
	now = now.Add(1500 * time.Millisecond)
	ok, remaining, _ := b.CheckRateLimit(context.Background(), "k", 2, 1, 1)
	if !ok || remaining != 0 {
		t.Fatalf("expected refill of one token, got %v %d", ok, remaining)
	}
}

type flakyBackend struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flakyBackend) CheckRateLimit(ctx context.Context, key string, maxTokens int, refillRate float64, requested int) (bool, int, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return false, 0, errors.New("connection refused")
	}
	return true, maxTokens - requested, nil
}

func TestFallbackBackendDegradesToLocal(t *testing.T) {
	primary := &flakyBackend{}
	primary.fail.Store(true)
	fb := NewFallbackBackend(primary)

	ok, _, err := fb.CheckRateLimit(context.Background(), "k", 1, 0.001, 1)
	if err != nil || !ok {
		t.Fatalf("fallback should answer locally, got %v %v", ok, err)
	}
	if !fb.Degraded() {
		t.Fatal("backend should be degraded")
	}
	if ok, _, _ := fb.CheckRateLimit(context.Background(), "k", 1, 0.001, 1); ok {
		t.Fatal("local bucket should now be exhausted")
	}
}

func TestMiddleware(t *testing.T) {
	l, _ := New(NewLocalBackend(), nil, TierConfig{RequestsPerSecond: 0.001, BurstSize: 1})
	h := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/inventory", nil)
		req = req.WithContext(tenant.WithContext(req.Context(), mustTenant(t, id)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("t1"); rec.Code != http.StatusNoContent || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("first request: %d remaining=%q", rec.Code, rec.Header().Get("X-RateLimit-Remaining"))
	}
	rec := send("t1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 should carry Retry-After")
	}
	if rec := send("t2"); rec.Code != http.StatusNoContent {
		t.Fatalf("other tenant should pass, got %d", rec.Code)
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := Middleware(nil)(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disabled limiter should pass through, got %d", rec.Code)
	}
}
