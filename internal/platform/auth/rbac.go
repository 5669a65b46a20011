package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ReaderRoles may view problem lists.
var ReaderRoles = []string{RoleAdmin, RolePhysician, RoleRadiologist, RoleNurse}

// HasAnyRole reports whether held grants one of wanted. Admin grants all.
func HasAnyRole(held []string, wanted ...string) bool {
	for _, h := range held {
		if h == RoleAdmin {
			return true
		}
		for _, w := range wanted {
			if h == w {
				return true
			}
		}
	}
	return false
}

// RequireRole answers 403 unless the caller holds one of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	msg := "required role: " + strings.Join(roles, " or ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !HasAnyRole(RolesFromContext(c.Request().Context()), roles...) {
				return echo.NewHTTPError(http.StatusForbidden, msg)
			}
			return next(c)
		}
	}
}
