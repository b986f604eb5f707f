// Package controlplane serves the administrative routes. Every route sits
// behind authz.RequireOwner and receives its tenant.AdminContext from the
// request context.
package controlplane

import (
	"net/http"

	"github.com/oriys/tillage/internal/api/respond"
	"github.com/oriys/tillage/internal/authz"
	"github.com/oriys/tillage/internal/logging"
	"github.com/oriys/tillage/internal/store"
	"github.com/oriys/tillage/internal/tenant"
)

// Handler handles control plane HTTP requests (tenant registry and module
// entitlements).
type Handler struct {
	Store *store.Store
}

// RegisterRoutes registers all control plane routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /admin/tenants", authz.RequireOwner(http.HandlerFunc(h.ListTenants)))
	mux.Handle("POST /admin/tenants", authz.RequireOwner(http.HandlerFunc(h.CreateTenant)))
	mux.Handle("GET /admin/tenants/{tenantID}", authz.RequireOwner(http.HandlerFunc(h.GetTenant)))
	mux.Handle("POST /admin/tenants/{tenantID}/modules/seed", authz.RequireOwner(http.HandlerFunc(h.SeedModules)))
	mux.Handle("PUT /admin/tenants/{tenantID}/modules/{moduleID}", authz.RequireOwner(http.HandlerFunc(h.SetModule)))
}

func adminFrom(w http.ResponseWriter, r *http.Request) (tenant.AdminContext, bool) {
	ac, err := authz.AdminFromContext(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return tenant.AdminContext{}, false
	}
	return ac, true
}

// ListTenants handles GET /admin/tenants
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	ac, ok := adminFrom(w, r)
	if !ok {
		return
	}
	limit := parsePaginationParam(r.URL.Query().Get("limit"), 100, 500)
	offset := parsePaginationParam(r.URL.Query().Get("offset"), 0, 0)

	tenants, err := h.Store.ListTenants(r.Context(), ac, limit, offset)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	writePaginatedList(w, limit, offset, len(tenants), estimatePaginatedTotal(limit, offset, len(tenants)), tenants)
}

// GetTenant handles GET /admin/tenants/{tenantID}
func (h *Handler) GetTenant(w http.ResponseWriter, r *http.Request) {
	ac, ok := adminFrom(w, r)
	if !ok {
		return
	}
	rec, err := h.Store.GetTenant(r.Context(), ac, r.PathValue("tenantID"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, rec)
}

// CreateTenant handles POST /admin/tenants
func (h *Handler) CreateTenant(w http.ResponseWriter, r *http.Request) {
	ac, ok := adminFrom(w, r)
	if !ok {
		return
	}
	var req struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Plan   string `json:"plan"`
		Status string `json:"status"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}

	rec, err := h.Store.CreateTenant(r.Context(), ac, &store.TenantRecord{
		ID:     req.ID,
		Name:   req.Name,
		Plan:   req.Plan,
		Status: req.Status,
	})
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, rec)
}

// SeedModules handles POST /admin/tenants/{tenantID}/modules/seed
func (h *Handler) SeedModules(w http.ResponseWriter, r *http.Request) {
	ac, ok := adminFrom(w, r)
	if !ok {
		return
	}
	if err := h.Store.SeedModules(r.Context(), ac, r.PathValue("tenantID")); err != nil {
		respond.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetModule handles PUT /admin/tenants/{tenantID}/modules/{moduleID}
func (h *Handler) SetModule(w http.ResponseWriter, r *http.Request) {
	ac, ok := adminFrom(w, r)
	if !ok {
		return
	}
	tenantID := r.PathValue("tenantID")
	moduleID := r.PathValue("moduleID")

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	if req.Enabled == nil {
		respond.Error(w, r, &store.ValidationError{Field: "enabled", Message: "is required"})
		return
	}

	if _, err := h.Store.GetTenant(r.Context(), ac, tenantID); err != nil {
		respond.Error(w, r, err)
		return
	}
	ent, err := h.Store.Entitlements.Set(r.Context(), ac, tenantID, moduleID, *req.Enabled)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	logging.Op().Info("module entitlement changed",
		"tenant_id", tenantID,
		"module", moduleID,
		"enabled", ent.Enabled,
		"by", ac.Subject())
	respond.JSON(w, http.StatusOK, ent)
}
