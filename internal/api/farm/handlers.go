// Package farm serves the tenant routes. Every handler takes its tenant from
// the request context bound by the auth and module-gate middleware; none
// reads a tenant id from the body, query string or path.
package farm

import (
	"net/http"
	"strconv"

	"github.com/oriys/tillage/internal/api/respond"
	"github.com/oriys/tillage/internal/auth"
	"github.com/oriys/tillage/internal/authz"
	"github.com/oriys/tillage/internal/cache"
	"github.com/oriys/tillage/internal/modules"
	"github.com/oriys/tillage/internal/ratelimit"
	"github.com/oriys/tillage/internal/store"
	"github.com/oriys/tillage/internal/tenant"
)

// Handler handles tenant-scoped farm requests.
type Handler struct {
	Store      *store.Store
	KV         *cache.TenantStore
	Gate       *modules.Gate
	Authorizer *authz.Authorizer
	Limiter    *ratelimit.Limiter // nil disables rate limiting
}

// RegisterRoutes registers all farm routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Inventory
	mux.Handle("GET /inventory", h.gated(modules.Inventory, h.ListInventory))
	mux.Handle("POST /inventory", h.gated(modules.Inventory, h.CreateInventory))
	mux.Handle("GET /inventory/{id}", h.gated(modules.Inventory, h.GetInventory))
	mux.Handle("PATCH /inventory/{id}", h.gated(modules.Inventory, h.UpdateInventory))
	mux.Handle("DELETE /inventory/{id}", h.gated(modules.Inventory, h.DeleteInventory))

	// Labor
	mux.Handle("GET /labor", h.gated(modules.Labor, h.ListLabor))
	mux.Handle("POST /labor", h.gated(modules.Labor, h.CreateLabor))
	mux.Handle("GET /labor/summary", h.gated(modules.Labor, h.LaborSummary))

	// Task boards
	mux.Handle("GET /boards/{name}", h.gated(modules.Tasks, h.GetBoard))
	mux.Handle("PUT /boards/{name}", h.gated(modules.Tasks, h.PutBoard))
	mux.Handle("DELETE /boards/{name}", h.gated(modules.Tasks, h.DeleteBoard))

	// Entitlements of the caller
	mux.Handle("GET /modules", h.tenantOnly(http.HandlerFunc(h.ListModules)))
}

// tenantOnly binds the session tenant, then applies the tenant's rate
// limit and the role rules.
func (h *Handler) tenantOnly(fn http.Handler) http.Handler {
	return auth.RequireTenant(ratelimit.Middleware(h.Limiter)(authz.Middleware(h.Authorizer)(fn)))
}

func (h *Handler) gated(moduleID string, fn http.HandlerFunc) http.Handler {
	return h.tenantOnly(h.Gate.Middleware(moduleID)(fn))
}

// tenantFrom returns the bound tenant context or writes a 401.
func tenantFrom(w http.ResponseWriter, r *http.Request) (tenant.Context, bool) {
	tc, err := tenant.FromContext(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return tenant.Context{}, false
	}
	return tc, true
}

// queryInt parses a non-negative integer query parameter, returning def when
// it is absent or malformed and capping it at max when max > 0.
func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// ListModules handles GET /modules
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	tc, ok := tenantFrom(w, r)
	if !ok {
		return
	}
	ents, err := h.Store.Entitlements.List(r.Context(), tc)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"tenant_id": tc.TenantID(),
		"modules":   ents,
	})
}
