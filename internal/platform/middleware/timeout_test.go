package middleware

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// waitFor blocks until d elapses or the request context ends.
func waitFor(d time.Duration, sawDeadline *atomic.Bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		_, has := ctx.Deadline()
		sawDeadline.Store(has)
		select {
		case <-time.After(d):
			return okHandler(c)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestRequestTimeout(t *testing.T) {
	tests := []struct {
		name         string
		target       string
		work         time.Duration
		wantStatus   int
		wantDeadline bool
	}{
		{"fast problem list", "/api/v1/patients/P1", time.Millisecond, http.StatusOK, true},
		{"slow problem list", "/api/v1/patients/P1", 5 * time.Second, http.StatusGatewayTimeout, true},
		{"metrics exempt", "/metrics", 100 * time.Millisecond, http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var deadline atomic.Bool
			rec := serve(t, waitFor(tt.work, &deadline), tt.target, nil,
				RequestTimeout(50*time.Millisecond, "/metrics"))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if deadline.Load() != tt.wantDeadline {
				t.Errorf("deadline set = %v, want %v", deadline.Load(), tt.wantDeadline)
			}
			if tt.wantStatus == http.StatusGatewayTimeout {
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["message"] != timeoutMessage {
					t.Errorf("body = %s (%v)", rec.Body.String(), err)
				}
			}
		})
	}
}

func TestRequestTimeout_HandlerErrorPassesThrough(t *testing.T) {
	missing := func(echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "patient not found") }
	rec := serve(t, missing, "/api/v1/patients/nope", nil, RequestTimeout(time.Second))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
