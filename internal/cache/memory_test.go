package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryBackend_SetAndGet(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	ctx := context.Background()

	if err := b.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := b.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Fatalf("expected 'value1', got '%s'", string(val))
	}

	// Mutating the returned slice must not change the stored value
	val[0] = 'X'
	again, _ := b.Get(ctx, "key1")
	if string(again) != "value1" {
		t.Fatalf("stored value was mutated: %s", again)
	}
}

func TestMemoryBackend_GetMissing(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	if _, err := b.Get(context.Background(), "nonexistent"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}

func TestMemoryBackend_Expiry(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	ctx := context.Background()

	if err := b.Set(ctx, "expiring", []byte("value"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ok, _ := b.Exists(ctx, "expiring"); !ok {
		t.Fatal("expected key to exist immediately after set")
	}

	time.Sleep(20 * time.Millisecond)

	if _, err := b.Get(ctx, "expiring"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got: %v", err)
	}
}

func TestMemoryBackend_EvictLoopRemovesExpired(t *testing.T) {
	b := newMemoryBackend(5 * time.Millisecond)
	defer b.Close()

	b.Set(context.Background(), "short", []byte("v"), time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(b.Keys()) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expired key was never evicted: %v", b.Keys())
}

func TestMemoryBackend_Delete(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	ctx := context.Background()
	b.Set(ctx, "del-key", []byte("value"), 0)

	if err := b.Delete(ctx, "del-key"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, _ := b.Exists(ctx, "del-key"); ok {
		t.Fatal("expected key to be gone after delete")
	}
	if err := b.Delete(ctx, "del-key"); err != nil {
		t.Fatalf("deleting a missing key should not fail: %v", err)
	}
}

func TestMemoryBackend_CloseIsIdempotent(t *testing.T) {
	b := NewMemoryBackend()
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := b.Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set after close should be a no-op, got %v", err)
	}
}

func TestMemoryBackend_OperationsFailAfterClose(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	if err := b.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	b.Close()

	if err := b.Set(ctx, "k", []byte("v2"), 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("Set after close: expected ErrClosed, got %v", err)
	}
	if _, err := b.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after close: expected ErrClosed, got %v", err)
	}
	if _, err := b.Exists(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Exists after close: expected ErrClosed, got %v", err)
	}
	if err := b.Delete(ctx, "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Delete after close: expected ErrClosed, got %v", err)
	}
	if err := b.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Ping after close: expected ErrClosed, got %v", err)
	}
}
