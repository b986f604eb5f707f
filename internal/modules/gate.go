package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/oriys/tillage/internal/auth"
	"github.com/oriys/tillage/internal/logging"
	"github.com/oriys/tillage/internal/metrics"
	"github.com/oriys/tillage/internal/tenant"
)

// ModuleAccessError is returned when the caller's tenant is not entitled to
// a module. Handlers map it to 403.
type ModuleAccessError struct {
	ModuleID string
	TenantID string
	Reason   string
}

func (e *ModuleAccessError) Error() string {
	return fmt.Sprintf("module %q is not available for tenant %q: %s", e.ModuleID, e.TenantID, e.Reason)
}

// IsModuleAccessError reports whether err is (or wraps) a ModuleAccessError.
func IsModuleAccessError(err error) bool {
	var mae *ModuleAccessError
	return errors.As(err, &mae)
}

// Caller is the identity that passed a module gate.
type Caller struct {
	Subject string
	Tenant  tenant.Context
}

// Gate checks module entitlements for the caller of a request.
type Gate struct {
	store EntitlementStore
}

// NewGate creates a Gate over store.
func NewGate(store EntitlementStore) *Gate {
	return &Gate{store: store}
}

// Require resolves the caller from ctx and checks that its tenant has
// moduleID enabled. It fails with ErrInvalidTenantContext when no trusted
// tenant is available, ModuleAccessError when the module is off or unknown,
// and a storage error when the entitlement could not be read.
func (g *Gate) Require(ctx context.Context, moduleID string) (Caller, error) {
	identity := auth.GetIdentity(ctx)
	tc, err := tenant.FromContext(ctx)
	if err != nil {
		tc, err = auth.TenantContext(identity)
		if err != nil {
			return Caller{}, err
		}
	}
	caller := Caller{Tenant: tc}
	if identity != nil {
		caller.Subject = identity.Subject
	}

	if !Known(moduleID) {
		metrics.RecordModuleDecision(moduleID, false)
		return Caller{}, &ModuleAccessError{ModuleID: moduleID, TenantID: tc.TenantID(), Reason: "unknown module"}
	}
	enabled, err := g.store.Enabled(ctx, tc, moduleID)
	if err != nil {
		return Caller{}, err
	}
	metrics.RecordModuleDecision(moduleID, enabled)
	if !enabled {
		return Caller{}, &ModuleAccessError{ModuleID: moduleID, TenantID: tc.TenantID(), Reason: "module disabled"}
	}
	return caller, nil
}

// Middleware gates a route on moduleID and binds the caller's tenant context
// for the handler.
func (g *Gate) Middleware(moduleID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := g.Require(r.Context(), moduleID)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(tenant.WithContext(r.Context(), caller.Tenant)))
			case IsModuleAccessError(err):
				logging.Op().Info("module access denied", "module", moduleID, "error", err)
				writeJSONError(w, http.StatusForbidden, "module_disabled", "module access disabled")
			case errors.Is(err, tenant.ErrInvalidTenantContext):
				writeJSONError(w, http.StatusUnauthorized, "invalid_tenant_context", "session does not carry a valid tenant")
			default:
				logging.Op().Error("module entitlement lookup failed", "module", moduleID, "error", err)
				writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
