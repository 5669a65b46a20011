package middleware

import "github.com/labstack/echo/v4"

// SecurityConfig toggles headers that only make sense behind TLS.
type SecurityConfig struct {
	HSTS bool
}

const hstsValue = "max-age=31536000; includeSubDomains"

// apiHeaders lock down a JSON API that serves patient data.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	// ETag relaxes this to private revalidation for cacheable GETs.
	{"Cache-Control", "no-store"},
}

func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv[0], kv[1])
			}
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			return next(c)
		}
	}
}
