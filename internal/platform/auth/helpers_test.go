package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var secret = []byte("ipl-unit-test-secret")

func hsToken(t *testing.T, sub string, ttl time.Duration, roles ...string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Roles: roles,
	})
	s, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// principal is what the protected handler saw.
type principal struct {
	userID string
	roles  []string
}

// router mounts a problem-list route and the public infrastructure routes
// behind mw, recording the principal of every request that got through.
func router(mw ...echo.MiddlewareFunc) (*echo.Echo, *principal) {
	seen := &principal{}
	e := echo.New()
	e.Use(mw...)
	record := func(c echo.Context) error {
		ctx := c.Request().Context()
		seen.userID, seen.roles = UserIDFromContext(ctx), RolesFromContext(ctx)
		return c.String(http.StatusOK, "ok")
	}
	e.GET("/api/v1/patients/:id/problem-list", record)
	e.GET("/health", record)
	e.GET("/health/db", record)
	e.GET("/metrics", record)
	return e, seen
}

func call(e *echo.Echo, path, authorization string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec.Code
}

func bearer(tok string) string { return "Bearer " + tok }

func joined(roles []string) string { return strings.Join(roles, ",") }
