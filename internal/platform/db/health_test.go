package db

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func serveHealth(t *testing.T, p Pinger) (int, HealthResponse) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health/db", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := HealthHandler(p)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec.Code, resp
}

func TestHealthHandler_Healthy(t *testing.T) {
	code, resp := serveHealth(t, fakePinger{})
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
	if resp.Status != "healthy" || resp.Error != "" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Pool != nil {
		t.Error("expected no pool stats for a non-pool pinger")
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	code, resp := serveHealth(t, fakePinger{err: errors.New("connection refused")})
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
	if resp.Status != "unhealthy" || resp.Error != "connection refused" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestParsePoolConfig(t *testing.T) {
	pc, err := ParsePoolConfig(PoolConfig{URL: "postgres://u:p@localhost:5432/ipl", MaxConns: 7, MinConns: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.MaxConns != 7 || pc.MinConns != 2 {
		t.Errorf("unexpected pool size %d/%d", pc.MaxConns, pc.MinConns)
	}
	if pc.ConnConfig.RuntimeParams["application_name"] != "ipl-server" {
		t.Errorf("expected application_name ipl-server, got %q", pc.ConnConfig.RuntimeParams["application_name"])
	}

	pc, err = ParsePoolConfig(PoolConfig{URL: "postgres://u:p@localhost:5432/ipl?application_name=loader"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.ConnConfig.RuntimeParams["application_name"] != "loader" {
		t.Error("expected explicit application_name to be kept")
	}

	if _, err := ParsePoolConfig(PoolConfig{URL: "://bad"}); err == nil {
		t.Error("expected error for invalid url")
	}
}
