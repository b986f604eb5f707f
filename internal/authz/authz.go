// Package authz makes role decisions for authenticated requests: the
// owner-role gate in front of administrative routes, and minimum roles for
// tenant routes that destroy data.
package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/oriys/tillage/internal/auth"
	"github.com/oriys/tillage/internal/logging"
	"github.com/oriys/tillage/internal/metrics"
	"github.com/oriys/tillage/internal/tenant"
)

// Rule requires MinRole for requests matching Method and Prefix. A prefix
// ending in "/" matches every path below it; otherwise the match is exact.
type Rule struct {
	Method  string
	Prefix  string
	MinRole tenant.Role
}

// DefaultRules are the tenant-route role requirements.
var DefaultRules = []Rule{
	{http.MethodDelete, "/inventory/", tenant.RoleAdmin},
	{http.MethodDelete, "/boards/", tenant.RoleAdmin},
}

// Authorizer checks tenant-route roles against a rule table.
type Authorizer struct {
	rules []Rule
}

// New creates an Authorizer. Requests matching no rule need only RoleUser.
func New(rules []Rule) *Authorizer {
	return &Authorizer{rules: rules}
}

// Check returns tenant.ErrForbidden if role is below the requirement for
// method and path.
func (a *Authorizer) Check(role tenant.Role, method, path string) error {
	required := a.requiredRole(method, path)
	if role.Rank() < required.Rank() {
		return errForbidden
	}
	return nil
}

func (a *Authorizer) requiredRole(method, path string) tenant.Role {
	for _, rule := range a.rules {
		if rule.Method != method {
			continue
		}
		if strings.HasSuffix(rule.Prefix, "/") {
			if strings.HasPrefix(path, rule.Prefix) {
				return rule.MinRole
			}
		} else if path == rule.Prefix {
			return rule.MinRole
		}
	}
	return tenant.RoleUser
}

var errForbidden = &forbiddenError{}

type forbiddenError struct{}

func (e *forbiddenError) Error() string { return "forbidden: insufficient permissions" }

func (e *forbiddenError) Unwrap() error { return tenant.ErrForbidden }

// Middleware enforces the rule table on requests that carry a tenant
// context. It must run after auth.RequireTenant.
func Middleware(authorizer *Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, err := tenant.FromContext(r.Context())
			if err != nil {
				writeForbidden(w)
				return
			}
			if err := authorizer.Check(tc.Role(), r.Method, r.URL.Path); err != nil {
				logging.Op().Warn("authorization denied",
					"tenant_id", tc.TenantID(),
					"role", tc.Role(),
					"path", r.URL.Path,
					"method", r.Method,
				)
				writeForbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type adminKey struct{}

// AdminFromContext returns the AdminContext bound by RequireOwner.
func AdminFromContext(ctx context.Context) (tenant.AdminContext, error) {
	ac, _ := ctx.Value(adminKey{}).(tenant.AdminContext)
	if err := ac.Check(); err != nil {
		return tenant.AdminContext{}, err
	}
	return ac, nil
}

// RequireOwner lets a request through only when the session role is the
// platform owner. It binds a tenant.AdminContext for the handler; nothing
// else can produce one.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := auth.GetIdentity(r.Context())
		if identity == nil {
			writeForbidden(w)
			return
		}
		ac, err := tenant.NewAdminContext(identity.Subject, tenant.ParseRole(identity.Role))
		if err != nil {
			metrics.RecordAdminDenial()
			logging.Op().Warn("administrative request denied",
				"subject", identity.Subject,
				"role", identity.Role,
				"path", r.URL.Path,
				"method", r.Method,
			)
			writeForbidden(w)
			return
		}
		logging.Op().Info("administrative request",
			"subject", identity.Subject,
			"path", r.URL.Path,
			"method", r.Method,
		)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), adminKey{}, ac)))
	})
}

func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "forbidden",
		"message": "insufficient permissions for this operation",
	})
}
