package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ETag adds a strong ETag to successful GET responses and answers a matching
// If-None-Match with 304. Cache-Control is set to private revalidation so
// clients keep the body but always check back.
func ETag() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodGet {
				return next(c)
			}

			orig := c.Response().Writer
			buf := &bufferedResponseWriter{header: orig.Header(), status: http.StatusOK}
			c.Response().Writer = buf

			err := next(c)
			c.Response().Writer = orig
			if err != nil {
				return err
			}

			if buf.status != http.StatusOK {
				orig.WriteHeader(buf.status)
				_, werr := orig.Write(buf.body.Bytes())
				return werr
			}

			tag := computeETag(buf.body.Bytes())
			h := orig.Header()
			h.Set("ETag", tag)
			h.Set("Cache-Control", "private, no-cache")

			if etagMatch(req.Header.Get("If-None-Match"), tag) {
				h.Del("Content-Length")
				h.Del("Content-Type")
				res := c.Response()
				res.Status, res.Size = http.StatusNotModified, 0
				orig.WriteHeader(http.StatusNotModified)
				return nil
			}

			orig.WriteHeader(http.StatusOK)
			_, werr := orig.Write(buf.body.Bytes())
			return werr
		}
	}
}

type bufferedResponseWriter struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (w *bufferedResponseWriter) Header() http.Header         { return w.header }
func (w *bufferedResponseWriter) Write(b []byte) (int, error) { return w.body.Write(b) }
func (w *bufferedResponseWriter) WriteHeader(code int)        { w.status = code }

func computeETag(body []byte) string {
	sum := sha256.Sum256(body)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

// etagMatch reports whether an If-None-Match header matches tag. Weak
// validators compare equal to their strong form.
func etagMatch(header, tag string) bool {
	if header == "" {
		return false
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "*" || strings.TrimPrefix(part, "W/") == tag {
			return true
		}
	}
	return false
}
