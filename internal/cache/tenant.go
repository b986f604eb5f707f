package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/tillage/internal/metrics"
	"github.com/oriys/tillage/internal/observability"
	"github.com/oriys/tillage/internal/tenant"
)

// TenantStore hands out tenant-bound views of a Backend.
type TenantStore struct {
	backend Backend
}

// NewTenantStore wraps backend.
func NewTenantStore(backend Backend) *TenantStore {
	return &TenantStore{backend: backend}
}

// Backend returns the underlying backend, for health checks.
func (s *TenantStore) Backend() Backend { return s.backend }

// For returns a handle scoped to tc. Every key the handle touches is derived
// with tenant.Key, so it cannot address another tenant's entries.
func (s *TenantStore) For(tc tenant.Context) (*Handle, error) {
	if !tc.Valid() {
		return nil, fmt.Errorf("%w: kv handle requested without tenant context", tenant.ErrInvalidTenantContext)
	}
	return &Handle{backend: s.backend, tc: tc}, nil
}

// Handle is a key-value view restricted to one tenant. It accepts logical
// key names only.
type Handle struct {
	backend Backend
	tc      tenant.Context
}

// Tenant returns the tenant the handle is bound to.
func (h *Handle) Tenant() tenant.Context { return h.tc }

func (h *Handle) do(ctx context.Context, op, logical string, fn func(ctx context.Context, key string) error) error {
	key, err := tenant.Key(h.tc, logical)
	if err != nil {
		return err
	}
	ctx, span := observability.StartClientSpan(ctx, "kv."+op,
		observability.AttrTenantID.String(h.tc.TenantID()),
		observability.AttrKVBackend.String(h.backend.Name()),
	)
	defer span.End()

	err = fn(ctx, key)
	switch {
	case err == nil, errors.Is(err, ErrNotFound):
		metrics.RecordKVOperation(h.backend.Name(), op, nil)
		observability.SetSpanOK(span)
		return err
	default:
		metrics.RecordKVOperation(h.backend.Name(), op, err)
		observability.SetSpanError(span, err)
		return tenant.NewStorageError("kv "+op, err)
	}
}

// Get returns the value for logical, or ErrNotFound.
func (h *Handle) Get(ctx context.Context, logical string) ([]byte, error) {
	var out []byte
	err := h.do(ctx, "get", logical, func(ctx context.Context, key string) error {
		v, err := h.backend.Get(ctx, key)
		out = v
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Set stores value under logical. A zero ttl keeps the entry until deleted.
func (h *Handle) Set(ctx context.Context, logical string, value []byte, ttl time.Duration) error {
	return h.do(ctx, "set", logical, func(ctx context.Context, key string) error {
		return h.backend.Set(ctx, key, value, ttl)
	})
}

// Delete removes logical. Deleting a missing key is not an error.
func (h *Handle) Delete(ctx context.Context, logical string) error {
	return h.do(ctx, "delete", logical, func(ctx context.Context, key string) error {
		return h.backend.Delete(ctx, key)
	})
}

// Exists reports whether logical is present.
func (h *Handle) Exists(ctx context.Context, logical string) (bool, error) {
	var ok bool
	err := h.do(ctx, "exists", logical, func(ctx context.Context, key string) error {
		v, err := h.backend.Exists(ctx, key)
		ok = v
		return err
	})
	return ok, err
}
