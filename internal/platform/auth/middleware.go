// Package auth authenticates API callers and gates problem-list reads by role.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
)

const (
	RoleAdmin       = "admin"
	RolePhysician   = "physician"
	RoleRadiologist = "radiologist"
	RoleNurse       = "nurse"
)

const devUserID = "dev-user"

// Claims is the token payload: standard claims plus a roles array.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// JWKSURL is discovered from Issuer, on first use, when empty.
	JWKSURL string
	// SigningKey switches verification to HS256 with a shared secret.
	SigningKey []byte
	Skipper    func(echo.Context) bool
}

// keyfunc verifies with the shared secret in static mode and against the
// identity provider's key set otherwise. Each mode accepts only its own
// signing algorithm.
func (cfg JWTConfig) keyfunc() (jwt.Keyfunc, string) {
	if len(cfg.SigningKey) > 0 {
		return func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }, jwt.SigningMethodHS256.Alg()
	}
	ks := NewKeySet(cfg.JWKSURL, defaultJWKSCacheTTL)
	if cfg.JWKSURL == "" {
		ks = NewIssuerKeySet(cfg.Issuer, defaultJWKSCacheTTL)
	}
	return ks.Keyfunc, jwt.SigningMethodRS256.Alg()
}

func (cfg JWTConfig) parserOptions(alg string) []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{alg})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return opts
}

// bearerToken extracts the token from an "Authorization: Bearer ..." header.
func bearerToken(header string) (string, *echo.HTTPError) {
	if header == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return token, nil
}

func withPrincipal(c echo.Context, userID string, roles []string) {
	ctx := context.WithValue(c.Request().Context(), UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}

func skipped(c echo.Context, skippers ...func(echo.Context) bool) bool {
	for _, skip := range skippers {
		if skip != nil && skip(c) {
			return true
		}
	}
	return false
}

// JWTMiddleware rejects requests without a valid bearer token and stores the
// token subject and roles in the request context.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	keyfunc, alg := cfg.keyfunc()
	opts := cfg.parserOptions(alg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipped(c, cfg.Skipper) {
				return next(c)
			}
			raw, herr := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if herr != nil {
				return herr
			}
			claims := &Claims{}
			if tok, err := jwt.ParseWithClaims(raw, claims, keyfunc, opts...); err != nil || !tok.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			withPrincipal(c, claims.Subject, claims.Roles)
			return next(c)
		}
	}
}

// DevAuthMiddleware treats every request without an Authorization header
// as an admin. Requests that carry one pass through untouched.
func DevAuthMiddleware(skippers ...func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !skipped(c, skippers...) && c.Request().Header.Get(echo.HeaderAuthorization) == "" {
				withPrincipal(c, devUserID, []string{RoleAdmin})
			}
			return next(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}
