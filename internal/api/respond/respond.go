// Package respond writes JSON responses and maps domain errors to HTTP
// status codes for every route package.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oriys/tillage/internal/cache"
	"github.com/oriys/tillage/internal/logging"
	"github.com/oriys/tillage/internal/modules"
	"github.com/oriys/tillage/internal/store"
	"github.com/oriys/tillage/internal/tenant"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// JSON writes v with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Fail writes an error response with an explicit code and message.
func Fail(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, ErrorBody{Error: code, Message: message})
}

// Status classifies err into an HTTP status, a stable error code and a
// client-safe message. Storage failures and anything unrecognized collapse
// into a generic 500 so driver messages never reach the client.
func Status(err error) (int, string, string) {
	switch {
	case errors.Is(err, tenant.ErrInvalidTenantContext):
		return http.StatusUnauthorized, "invalid_tenant_context", "session does not carry a valid tenant"
	case modules.IsModuleAccessError(err):
		return http.StatusForbidden, "module_disabled", "module access disabled"
	case errors.Is(err, tenant.ErrTenantMismatch):
		return http.StatusForbidden, "tenant_mismatch", "tenant header does not match session"
	case errors.Is(err, tenant.ErrForbidden):
		return http.StatusForbidden, "forbidden", "insufficient permissions for this operation"
	case store.IsValidationError(err):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, modules.ErrUnknownModule):
		return http.StatusNotFound, "not_found", "unknown module"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, cache.ErrNotFound):
		return http.StatusNotFound, "not_found", "resource not found"
	case errors.Is(err, store.ErrTenantExists):
		return http.StatusConflict, "conflict", "tenant already exists"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// Error maps err with Status and writes it. 5xx errors are logged with the
// underlying cause.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := Status(err)
	if status >= http.StatusInternalServerError {
		logging.Op().Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"storage", tenant.IsStorageError(err),
			"error", err)
	}
	Fail(w, status, code, message)
}

// Decode reads a JSON request body into v, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &store.ValidationError{Field: "body", Message: "invalid JSON"}
	}
	return nil
}
