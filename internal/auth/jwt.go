package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the session claims carried by a bearer token.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 bearer tokens
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

// JWTAuthConfig holds JWT authenticator configuration
type JWTAuthConfig struct {
	Secret string // HMAC secret
	Issuer string // Optional issuer validation
}

// NewJWTAuthenticator creates a new JWT authenticator
func NewJWTAuthenticator(cfg JWTAuthConfig) (*JWTAuthenticator, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("JWT secret required for HS256")
	}
	return &JWTAuthenticator{secret: []byte(cfg.Secret), issuer: cfg.Issuer}, nil
}

// Authenticate implements Authenticator
func (a *JWTAuthenticator) Authenticate(r *http.Request) *Identity {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil
	}
	id, err := a.Parse(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil
	}
	return id
}

// Parse validates token and returns the identity it carries.
func (a *JWTAuthenticator) Parse(token string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	if claims.Subject == "" {
		return nil, errors.Join(jwt.ErrTokenInvalidClaims, errors.New("missing sub"))
	}
	return &Identity{
		Subject:  claims.Subject,
		TenantID: claims.TenantID,
		Role:     claims.Role,
		Claims: map[string]any{
			"iss": claims.Issuer,
			"jti": claims.ID,
		},
	}, nil
}

// TokenRequest describes a token to mint.
type TokenRequest struct {
	Subject  string
	TenantID string
	Role     string
	TTL      time.Duration
}

// IssueToken signs an HS256 session token. The CLI uses it to mint operator
// tokens; the session service in front of the API owns end-user tokens.
func IssueToken(cfg JWTAuthConfig, req TokenRequest) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("JWT secret required for HS256")
	}
	if req.Subject == "" {
		return "", fmt.Errorf("token subject is required")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := Claims{
		TenantID: req.TenantID,
		Role:     req.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   req.Subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}
