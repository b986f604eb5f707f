package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/oriys/tillage/internal/tenant"
)

func mustTenant(t *testing.T, id string) tenant.Context {
	t.Helper()
	tc, err := tenant.Normalize(id, "user")
	if err != nil {
		t.Fatalf("Normalize(%q) failed: %v", id, err)
	}
	return tc
}

func backends(t *testing.T) map[string]Backend {
	mr := miniredis.RunT(t)
	rb := NewRedisBackendFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	mb := NewMemoryBackend()
	t.Cleanup(func() {
		rb.Close()
		mb.Close()
	})
	return map[string]Backend{BackendRedis: rb, BackendMemory: mb}
}

func TestHandleIsolatesTenants(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewTenantStore(b)
			h1, err := store.For(mustTenant(t, "t1"))
			if err != nil {
				t.Fatalf("For failed: %v", err)
			}
			h2, _ := store.For(mustTenant(t, "t2"))
			if h1.Tenant().TenantID() != "t1" || h2.Tenant().TenantID() != "t2" {
				t.Fatalf("handles bound to wrong tenants: %s %s", h1.Tenant(), h2.Tenant())
			}

			if err := h1.Set(ctx, "board:harvest", []byte("t1-data"), 0); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if _, err := h2.Get(ctx, "board:harvest"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("tenant t2 must not see t1 data, got %v", err)
			}
			if err := h2.Set(ctx, "board:harvest", []byte("t2-data"), 0); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			v1, _ := h1.Get(ctx, "board:harvest")
			v2, _ := h2.Get(ctx, "board:harvest")
			if string(v1) != "t1-data" || string(v2) != "t2-data" {
				t.Fatalf("values crossed tenants: %s / %s", v1, v2)
			}

			if err := h2.Delete(ctx, "board:harvest"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if ok, _ := h1.Exists(ctx, "board:harvest"); !ok {
				t.Fatal("deleting t2's key removed t1's key")
			}
		})
	}
}

func TestHandlePhysicalKeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	rb := NewRedisBackendFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	defer rb.Close()

	h, _ := NewTenantStore(rb).For(mustTenant(t, "farm-7"))
	if err := h.Set(context.Background(), "board:north", []byte("x"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	keys := mr.Keys()
	if len(keys) != 1 || keys[0] != "tillage:farm-7:board:north" {
		t.Fatalf("unexpected physical keys %v", keys)
	}
}

func TestHandleRequiresTenantContext(t *testing.T) {
	store := NewTenantStore(NewMemoryBackend())
	defer store.Backend().Close()
	if _, err := store.For(tenant.Context{}); !errors.Is(err, tenant.ErrInvalidTenantContext) {
		t.Fatalf("expected ErrInvalidTenantContext, got %v", err)
	}
}

func TestHandleRejectsEmptyLogicalKey(t *testing.T) {
	store := NewTenantStore(NewMemoryBackend())
	defer store.Backend().Close()
	h, _ := store.For(mustTenant(t, "t1"))
	if err := h.Set(context.Background(), " ", []byte("v"), 0); !errors.Is(err, tenant.ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestHandleWrapsBackendFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	rb := NewRedisBackendFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
	defer rb.Close()
	h, _ := NewTenantStore(rb).For(mustTenant(t, "t1"))

	mr.SetError("ERR backend unavailable")
	_, err := h.Get(context.Background(), "board:harvest")
	if !tenant.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if strings.Contains(err.Error(), "t1:") {
		t.Fatalf("storage error should not leak physical keys: %v", err)
	}
}

func TestHandleSetOnClosedMemoryBackend(t *testing.T) {
	mb := NewMemoryBackend()
	h, _ := NewTenantStore(mb).For(mustTenant(t, "t1"))
	mb.Close()

	err := h.Set(context.Background(), "board:harvest", []byte("v"), time.Minute)
	if !tenant.IsStorageError(err) || !errors.Is(err, ErrClosed) {
		t.Fatalf("expected storage error wrapping ErrClosed, got %v", err)
	}
}
