package respond

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oriys/tillage/internal/cache"
	"github.com/oriys/tillage/internal/modules"
	"github.com/oriys/tillage/internal/store"
	"github.com/oriys/tillage/internal/tenant"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"invalid tenant", fmt.Errorf("%w: missing", tenant.ErrInvalidTenantContext), http.StatusUnauthorized, "invalid_tenant_context"},
		{"module", &modules.ModuleAccessError{ModuleID: "sales", TenantID: "t1", Reason: "module disabled"}, http.StatusForbidden, "module_disabled"},
		{"mismatch", tenant.ErrTenantMismatch, http.StatusForbidden, "tenant_mismatch"},
		{"forbidden", tenant.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"validation", &store.ValidationError{Field: "name", Message: "is required"}, http.StatusBadRequest, "invalid_request"},
		{"unknown module", modules.ErrUnknownModule, http.StatusNotFound, "not_found"},
		{"not found", fmt.Errorf("%w: item 1", store.ErrNotFound), http.StatusNotFound, "not_found"},
		{"kv not found", cache.ErrNotFound, http.StatusNotFound, "not_found"},
		{"exists", store.ErrTenantExists, http.StatusConflict, "conflict"},
		{"storage", tenant.NewStorageError("query", errors.New("pq: password authentication failed")), http.StatusInternalServerError, "internal_error"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _ := Status(tc.err)
			if status != tc.want || code != tc.code {
				t.Fatalf("Status(%v) = %d %q, want %d %q", tc.err, status, code, tc.want, tc.code)
			}
		})
	}
}

func TestErrorHidesStorageDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/inventory", nil)
	Error(rec, req, tenant.NewStorageError("query", errors.New("pq: password authentication failed for user farm")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("storage detail leaked: %s", rec.Body.String())
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/inventory", strings.NewReader(`{"name":"Oats","tenant_id":"t2"}`))
	var in store.InventoryInput
	if err := Decode(req, &in); !store.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
