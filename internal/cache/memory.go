package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend keeps entries in a process-local map. It is the degraded
// fallback for deployments without Redis: contents vanish on restart and are
// not visible to other instances.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	closed  bool
	stop    chan struct{}
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryBackend creates an in-memory backend with periodic eviction.
func NewMemoryBackend() *MemoryBackend {
	return newMemoryBackend(30 * time.Second)
}

func newMemoryBackend(evictEvery time.Duration) *MemoryBackend {
	b := &MemoryBackend{
		entries: make(map[string]*memEntry),
		stop:    make(chan struct{}),
	}
	go b.evictLoop(evictEvery)
	return b
}

func (b *MemoryBackend) Name() string { return BackendMemory }

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	entry, ok := b.entries[key]
	if !ok || entry.expired(time.Now()) {
		return nil, ErrNotFound
	}
	// Return a copy to prevent mutation
	cp := make([]byte, len(entry.value))
	copy(cp, entry.value)
	return cp, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	b.entries[key] = &memEntry{value: cp, expiresAt: expiresAt}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	delete(b.entries, key)
	return nil
}

func (b *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, ErrClosed
	}
	entry, ok := b.entries[key]
	return ok && !entry.expired(time.Now()), nil
}

// Keys returns the physical keys currently stored, expired or not.
func (b *MemoryBackend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	return keys
}

func (b *MemoryBackend) Ping(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		b.entries = nil
		close(b.stop)
	}
	return nil
}

func (b *MemoryBackend) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for key, entry := range b.entries {
				if entry.expired(now) {
					delete(b.entries, key)
				}
			}
			b.mu.Unlock()
		}
	}
}
