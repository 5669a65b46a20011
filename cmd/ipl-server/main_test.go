package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/openimagingdata/ipl/internal/config"
	"github.com/openimagingdata/ipl/internal/domain/efl"
	"github.com/openimagingdata/ipl/internal/domain/problemlist"
	"github.com/openimagingdata/ipl/internal/platform/auth"
	"github.com/openimagingdata/ipl/internal/platform/db"
	"github.com/openimagingdata/ipl/internal/platform/mapping"
	"github.com/openimagingdata/ipl/internal/platform/metrics"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func sampleEFLs() []*efl.ExamFindingList {
	exam := func(id, date string, presence string) *efl.ExamFindingList {
		return &efl.ExamFindingList{
			DiagnosticReportID: id,
			PatientInfo:        efl.PatientInfo{PatientIdentifier: "P1", PatientDOB: "1961-01-01"},
			ExamInfo: efl.ExamInfo{
				StudyIdentifier:  "CT_CHEST_" + strings.ReplaceAll(date, "-", ""),
				StudyDateTime:    date + "T10:00:00Z",
				StudyLoincCode:   "24627-2",
				StudyDescription: "CT CHEST",
			},
			Findings: []efl.Finding{{
				ObservationID:      id + ".1",
				FindingCode:        "OIFM_1",
				FindingDescription: "Pulmonary nodule",
				Attributes: []efl.Attribute{{
					AttributeDescription:      efl.PresenceAttribute,
					AttributeValueDescription: presence,
				}},
				ReportText: "Nodule in the right upper lobe.",
			}},
		}
	}
	return []*efl.ExamFindingList{
		exam("r1", "2024-01-15", "present"),
		exam("r2", "2025-01-01", "present"),
	}
}

func writeDataDir(t *testing.T) string {
	t.Helper()
	efls := sampleEFLs()
	rec, _, err := efl.BuildRecord(efls, "John Doe")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := efl.WriteLayout(dir, rec, efls); err != nil {
		t.Fatal(err)
	}
	return dir
}

func testServer(t *testing.T, cfg *config.Config) (*echo.Echo, *deps) {
	t.Helper()
	store, err := mapping.NewStore("", "", zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	d := &deps{
		records:  problemlist.NewRecordRepoFile(writeDataDir(t)),
		mappings: store,
		metrics:  metrics.NewCollectors(nil),
	}
	e, err := newServer(cfg, d, zerolog.Nop())
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	return e, d
}

func devConfig() *config.Config {
	return &config.Config{
		Env:            "development",
		DataSource:     config.DataSourceFile,
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimitRPS:   100,
		RateLimitBurst: 200,
		RequestTimeout: 5 * time.Second,
		CacheTTL:       time.Minute,
	}
}

func get(e *echo.Echo, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	e, _ := testServer(t, devConfig())

	rec := get(e, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["data_source"] != "file" || body["vocabulary"] != "longitudinal" {
		t.Errorf("unexpected health body %v", body)
	}

	if rec := get(e, "/health/db", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected no db health route without a pool, got %d", rec.Code)
	}
}

func TestServer_ProblemListRoutes(t *testing.T) {
	e, _ := testServer(t, devConfig())

	rec := get(e, "/api/v1/patients", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" || rec.Header().Get("ETag") == "" {
		t.Error("expected request id and etag headers")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	again := get(e, "/api/v1/patients", map[string]string{"If-None-Match": rec.Header().Get("ETag")})
	if again.Code != http.StatusNotModified {
		t.Errorf("expected 304 on matching etag, got %d", again.Code)
	}

	rec = get(e, "/api/v1/patients/P1/problem-list", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var list problemlist.ProblemList
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Patient.Name != "John Doe" || list.Total != 1 {
		t.Errorf("unexpected problem list %+v", list)
	}

	if rec := get(e, "/api/v1/patients/P1/problem-list?status=bogus", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status filter, got %d", rec.Code)
	}
	if rec := get(e, "/api/v1/findings/OIFM_1/info", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a finding catalog, got %d", rec.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	e, _ := testServer(t, devConfig())
	get(e, "/api/v1/patients", nil)

	rec := get(e, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ipl_http_requests_total") {
		t.Error("expected request counter in metrics output")
	}
}

func TestServer_StaticAuth(t *testing.T) {
	cfg := devConfig()
	cfg.Env = "production"
	cfg.AuthSigningKey = testSigningKey
	e, _ := testServer(t, cfg)

	if rec := get(e, "/api/v1/patients", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	if rec := get(e, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("expected public health route, got %d", rec.Code)
	}

	sign := func(roles []string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "dr-smith",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			Roles: roles,
		})
		s, err := tok.SignedString([]byte(testSigningKey))
		if err != nil {
			t.Fatal(err)
		}
		return "Bearer " + s
	}

	rec := get(e, "/api/v1/patients", map[string]string{"Authorization": sign([]string{auth.RoleRadiologist})})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with a reader token, got %d", rec.Code)
	}
	rec = get(e, "/api/v1/patients", map[string]string{"Authorization": sign([]string{"billing"})})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without a reader role, got %d", rec.Code)
	}
}

func TestAuthMiddleware_UnknownMode(t *testing.T) {
	cfg := devConfig()
	cfg.AuthMode = "saml"
	if _, err := authMiddleware(cfg); err == nil {
		t.Error("expected error for unknown auth mode")
	}
}

func TestNewServer_BadVocabulary(t *testing.T) {
	cfg := devConfig()
	cfg.StatusVocabulary = "binary"
	if _, err := newServer(cfg, &deps{}, zerolog.Nop()); err == nil {
		t.Error("expected error for unknown vocabulary")
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, "public", []db.MigrationStatus{
		{Version: 1, Name: "001_problem_list.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})
	out := buf.String()
	for _, want := range []string{"schema: public", "001_problem_list.sql", "applied", "2026-01-02 03:04:05", "pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestPrintProblemList(t *testing.T) {
	item := problemlist.ProblemListItem{
		EnrichedFinding: problemlist.EnrichedFinding{
			Finding: problemlist.Finding{FindingTypeCode: "OIFM_1", FindingTypeDisplay: "Pulmonary nodule"},
			Status:  problemlist.StatusCurrent,
			Regions: problemlist.RegionSet{"chest"},
		},
		ObservationCount: 2,
		MostRecentDate:   "2025-01-01",
	}
	list := &problemlist.ProblemList{
		Patient:  problemlist.Patient{ID: "P1", Name: "John Doe"},
		Filter:   problemlist.Filter{Status: problemlist.FilterAll, Region: "all"},
		Findings: []problemlist.ProblemListItem{item},
		Sections: []problemlist.Section[problemlist.ProblemListItem]{
			{Status: problemlist.StatusCurrent, Label: "Current", Items: []problemlist.ProblemListItem{item}},
		},
		Total: 1,
	}

	var buf bytes.Buffer
	printProblemList(&buf, list)
	out := buf.String()
	for _, want := range []string{"Patient: John Doe (P1)", "Showing 1 of 1", "Current (1)", "Pulmonary nodule", "chest", "last 2025-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestIPLBuildCommand(t *testing.T) {
	eflDir := t.TempDir()
	if _, err := efl.WriteDir(eflDir, sampleEFLs()); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "ipl.json")
	dataDir := t.TempDir()

	cmd := iplCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"build", eflDir, out, "--patient-name", "John Doe", "--data-dir", dataDir})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("ipl build: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	var rec problemlist.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Patient.ID != "P1" || len(rec.Findings) != 1 || len(rec.Findings[0].Observations) != 2 {
		t.Errorf("unexpected record %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "patients", "P1", "ipl.json")); err != nil {
		t.Errorf("expected record in data dir: %v", err)
	}
	if !strings.Contains(stdout.String(), "Wrote 1 finding(s) from 2 exam(s)") {
		t.Errorf("unexpected output %q", stdout.String())
	}
}

func TestFindingsRegionTableCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "enriched_findings.json")
	defs := `{
  "OIFM_1": {"name": "Pulmonary nodule", "body_regions": ["Thorax"]},
  "OIFM_2": {"name": "Bone metastasis", "body_regions": ["whole_body"]}
}`
	if err := os.WriteFile(in, []byte(defs), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "regions.yaml")

	cmd := findingsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"region-table", in, out})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("findings region-table: %v", err)
	}

	table, err := mapping.LoadRegionTable(out)
	if err != nil {
		t.Fatal(err)
	}
	if rs := table["Pulmonary nodule"]; len(rs) != 1 || rs[0] != problemlist.RegionChest {
		t.Errorf("unexpected nodule regions %v", rs)
	}
	if !table["Bone metastasis"].IsAll() {
		t.Errorf("expected whole body to map to ALL, got %v", table["Bone metastasis"])
	}

	info := filepath.Join(dir, "info.json")
	cmd = findingsCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"display-info", in, info})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("findings display-info: %v", err)
	}
	if _, err := os.Stat(info); err != nil {
		t.Errorf("expected display info file: %v", err)
	}
}
