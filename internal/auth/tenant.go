package auth

import (
	"net/http"
	"strings"

	"github.com/oriys/tillage/internal/logging"
	"github.com/oriys/tillage/internal/metrics"
	"github.com/oriys/tillage/internal/tenant"
)

// TenantHintHeader carries an optional client-side tenant hint. It is
// checked against the session and never establishes a tenant on its own.
const TenantHintHeader = "X-Tenant-ID"

// TenantContext normalizes the session-derived tenant id and role of id.
func TenantContext(id *Identity) (tenant.Context, error) {
	if id == nil {
		return tenant.Normalize(nil, nil)
	}
	return tenant.Normalize(id.TenantID, id.Role)
}

// checkTenantHint rejects requests whose X-Tenant-ID disagrees with the
// session tenant. It writes the response and returns false on mismatch.
func checkTenantHint(w http.ResponseWriter, r *http.Request, id *Identity) bool {
	hint := strings.TrimSpace(r.Header.Get(TenantHintHeader))
	if hint == "" || hint == strings.TrimSpace(id.TenantID) {
		return true
	}
	metrics.RecordTenantMismatch()
	logging.Op().Warn("tenant hint does not match session",
		"subject", id.Subject,
		"session_tenant", id.TenantID,
		"hinted_tenant", hint,
		"path", r.URL.Path)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(`{"error":"tenant_mismatch","message":"tenant header does not match session"}`))
	return false
}

// RequireTenant normalizes the authenticated identity into a tenant.Context
// and binds it to the request. Requests without a usable tenant get 401.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, err := TenantContext(GetIdentity(r.Context()))
		if err != nil {
			logging.Op().Warn("request rejected without tenant context", "path", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_tenant_context","message":"session does not carry a valid tenant"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(tenant.WithContext(r.Context(), tc)))
	})
}
