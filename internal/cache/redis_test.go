package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewRedisBackendFromClient(client, "")
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestRedisBackend_SetGetWithPrefix(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := context.Background()

	if err := b.Set(ctx, "t1:board:harvest", []byte(`{"cards":[]}`), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := b.Get(ctx, "t1:board:harvest")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"cards":[]}` {
		t.Fatalf("unexpected value %s", got)
	}
	if !mr.Exists("tillage:t1:board:harvest") {
		t.Fatalf("expected physical key with deployment prefix, have %v", mr.Keys())
	}
}

func TestRedisBackend_GetMissing(t *testing.T) {
	b, _ := newTestRedis(t)
	if _, err := b.Get(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisBackend_TTL(t *testing.T) {
	b, mr := newTestRedis(t)
	ctx := context.Background()

	if err := b.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if ok, err := b.Exists(ctx, "k"); err != nil || ok {
		t.Fatalf("expected key to expire, ok=%v err=%v", ok, err)
	}
}

func TestRedisBackend_DeleteAndPing(t *testing.T) {
	b, _ := newTestRedis(t)
	ctx := context.Background()

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	b.Set(ctx, "k", []byte("v"), 0)
	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := b.Exists(ctx, "k"); ok {
		t.Fatal("expected key deleted")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, Config{Backend: BackendMemory})
	if err != nil {
		t.Fatalf("Open memory failed: %v", err)
	}
	defer mem.Close()
	if mem.Name() != BackendMemory {
		t.Fatalf("expected memory backend, got %s", mem.Name())
	}

	mr := miniredis.RunT(t)
	rb, err := Open(ctx, Config{Backend: BackendRedis, Addr: mr.Addr(), KeyPrefix: "test:"})
	if err != nil {
		t.Fatalf("Open redis failed: %v", err)
	}
	defer rb.Close()
	if rb.Name() != BackendRedis {
		t.Fatalf("expected redis backend, got %s", rb.Name())
	}

	if _, err := Open(ctx, Config{Backend: "memcached"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenRedisUnreachableDoesNotFallBack(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	b, err := Open(context.Background(), Config{Backend: BackendRedis, Addr: addr})
	if err == nil {
		b.Close()
		t.Fatal("expected error for unreachable redis")
	}
}
