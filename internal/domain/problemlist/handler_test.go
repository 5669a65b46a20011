package problemlist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/openimagingdata/ipl/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	return h, e
}

func TestHandler_GetProblemList(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/p1/problem-list?status=current", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("p1")

	if err := h.GetProblemList(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var list ProblemList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(list.Findings) != 1 || list.Findings[0].Status != StatusAlways {
		t.Errorf("expected the always finding to pass the current filter, got %+v", list.Findings)
	}
	if list.Filter.Status != FilterCurrent || list.Filter.Region != "all" {
		t.Errorf("unexpected echoed filter %+v", list.Filter)
	}
}

func TestHandler_GetProblemList_BadFilter(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/?status=sometimes", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("p1")

	err := h.GetProblemList(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_NotFound(t *testing.T) {
	h, e := newTestHandler()

	tests := []struct {
		name    string
		names   []string
		values  []string
		handler func(echo.Context) error
		code    int
	}{
		{"patient", []string{"id"}, []string{"nobody"}, h.GetPatient, http.StatusNotFound},
		{"invalid id", []string{"id"}, []string{".."}, h.GetPatient, http.StatusBadRequest},
		{"finding", []string{"id", "code"}, []string{"p1", "nope"}, h.GetFindingObservations, http.StatusNotFound},
		{"report text", []string{"id", "reportId"}, []string{"p1", "r404"}, h.GetReportText, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames(tt.names...)
			c.SetParamValues(tt.values...)

			err := tt.handler(c)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T", err)
			}
			if httpErr.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, httpErr.Code)
			}
		})
	}
}

func TestHandler_GetExam(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "reportId")
	c.SetParamValues("p1", "r2")

	if err := h.GetExam(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var view ExamView
	json.Unmarshal(rec.Body.Bytes(), &view)
	if view.ReportID != "r2" || len(view.Findings) != 3 || len(view.Sections) == 0 {
		t.Errorf("unexpected view %+v", view)
	}
}

func TestHandler_GetReportText(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id", "reportId")
	c.SetParamValues("p1", "r2")

	if err := h.GetReportText(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "FINDINGS: no nodule." {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestHandler_ListPatients(t *testing.T) {
	h, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients?limit=10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []Patient `json:"data"`
		Total int       `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Total != 1 || len(resp.Data) != 1 || resp.Data[0].ID != "p1" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHandler_RegisterRoutes_RequiresRole(t *testing.T) {
	h, e := newTestHandler()
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/p1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without roles, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/patients/p1", nil)
	req = req.WithContext(context.WithValue(req.Context(), auth.UserRolesKey, []string{auth.RoleRadiologist}))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for radiologist, got %d", rec.Code)
	}
}
