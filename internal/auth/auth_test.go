package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oriys/tillage/internal/tenant"
)

var testJWT = JWTAuthConfig{Secret: "test-secret", Issuer: "tillage-test"}

func mustToken(t *testing.T, req TokenRequest) string {
	t.Helper()
	tok, err := IssueToken(testJWT, req)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	return tok
}

func newAuthenticator(t *testing.T) *JWTAuthenticator {
	t.Helper()
	a, err := NewJWTAuthenticator(testJWT)
	if err != nil {
		t.Fatalf("NewJWTAuthenticator failed: %v", err)
	}
	return a
}

func TestJWTRoundTrip(t *testing.T) {
	a := newAuthenticator(t)
	tok := mustToken(t, TokenRequest{Subject: "user:ana", TenantID: "t1", Role: "admin"})

	id, err := a.Parse(tok)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if id.Subject != "user:ana" || id.TenantID != "t1" || id.Role != "admin" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestJWTRejectsBadTokens(t *testing.T) {
	a := newAuthenticator(t)

	wrongSecret, _ := IssueToken(JWTAuthConfig{Secret: "other", Issuer: testJWT.Issuer}, TokenRequest{Subject: "user:x", TenantID: "t1"})
	wrongIssuer, _ := IssueToken(JWTAuthConfig{Secret: testJWT.Secret, Issuer: "elsewhere"}, TokenRequest{Subject: "user:x", TenantID: "t1"})
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TenantID: "t1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user:x",
			Issuer:    testJWT.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte(testJWT.Secret))
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TenantID:         "t1",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user:x", Issuer: testJWT.Issuer},
	}).SignedString([]byte(testJWT.Secret))
	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		TenantID: "t1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user:x",
			Issuer:    testJWT.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, tok := range map[string]string{
		"wrong secret": wrongSecret,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"no expiry":    noExpiry,
		"alg none":     unsigned,
		"garbage":      "not-a-token",
	} {
		if _, err := a.Parse(tok); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}

func TestIssueTokenValidation(t *testing.T) {
	if _, err := IssueToken(JWTAuthConfig{}, TokenRequest{Subject: "user:x"}); err == nil {
		t.Fatal("expected error without secret")
	}
	if _, err := IssueToken(testJWT, TokenRequest{}); err == nil {
		t.Fatal("expected error without subject")
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetIdentity(r.Context())
		if id == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte(id.Subject))
	})
}

func TestMiddleware(t *testing.T) {
	mw := Middleware([]Authenticator{newAuthenticator(t)}, []string{"/health", "/public/*"})
	h := mw(okHandler())
	tok := mustToken(t, TokenRequest{Subject: "user:ana", TenantID: "t1"})

	tests := []struct {
		name   string
		path   string
		auth   string
		hint   string
		status int
		body   string
	}{
		{name: "public exact", path: "/health", status: http.StatusNoContent},
		{name: "public prefix", path: "/public/docs", status: http.StatusNoContent},
		{name: "missing token", path: "/inventory", status: http.StatusUnauthorized, body: "unauthorized"},
		{name: "basic scheme", path: "/inventory", auth: "Basic abc", status: http.StatusUnauthorized},
		{name: "valid token", path: "/inventory", auth: "Bearer " + tok, status: http.StatusOK, body: "user:ana"},
		{name: "matching hint", path: "/inventory", auth: "Bearer " + tok, hint: "t1", status: http.StatusOK},
		{name: "mismatched hint", path: "/inventory", auth: "Bearer " + tok, hint: "t2", status: http.StatusForbidden, body: "tenant_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			if tt.hint != "" {
				req.Header.Set(TenantHintHeader, tt.hint)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d (%s)", tt.status, rr.Code, rr.Body.String())
			}
			if tt.body != "" && !strings.Contains(rr.Body.String(), tt.body) {
				t.Fatalf("expected body containing %q, got %q", tt.body, rr.Body.String())
			}
		})
	}
}

func TestHintNeverEstablishesTenant(t *testing.T) {
	mw := Middleware([]Authenticator{newAuthenticator(t)}, nil)
	h := mw(RequireTenant(okHandler()))

	// A token without a tenant claim plus a header naming a tenant must not
	// produce a tenant context.
	tok := mustToken(t, TokenRequest{Subject: "user:ana"})
	req := httptest.NewRequest(http.MethodGet, "/inventory", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set(TenantHintHeader, "t1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code == http.StatusOK {
		t.Fatal("header alone must not establish a tenant")
	}
}

func TestRequireTenantBindsContext(t *testing.T) {
	var got tenant.Context
	h := RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, err := tenant.FromContext(r.Context())
		if err != nil {
			t.Errorf("FromContext failed: %v", err)
		}
		got = tc
	}))

	req := httptest.NewRequest(http.MethodGet, "/inventory", nil)
	req = req.WithContext(WithIdentity(req.Context(), &Identity{Subject: "user:ana", TenantID: " t1 ", Role: "OWNER"}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.TenantID() != "t1" || got.Role() != tenant.RoleOwner {
		t.Fatalf("unexpected tenant context %v", got)
	}
}

func TestRequireTenantRejectsSentinels(t *testing.T) {
	for _, raw := range []string{"", "undefined", "null"} {
		called := false
		h := RequireTenant(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
		req := httptest.NewRequest(http.MethodGet, "/inventory", nil)
		req = req.WithContext(WithIdentity(req.Context(), &Identity{Subject: "user:ana", TenantID: raw}))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if called || rr.Code != http.StatusUnauthorized {
			t.Fatalf("tenant %q: expected 401 without calling handler, got %d", raw, rr.Code)
		}
	}
}

func TestTenantContextNilIdentity(t *testing.T) {
	if _, err := TenantContext(nil); !errors.Is(err, tenant.ErrInvalidTenantContext) {
		t.Fatalf("expected ErrInvalidTenantContext, got %v", err)
	}
}
