package findinginfo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/openimagingdata/ipl/internal/domain/problemlist"
	"github.com/openimagingdata/ipl/internal/platform/auth"
)

func sampleDefinitions() map[string]Definition {
	return map[string]Definition{
		"OIFM_MSFT_134126": {
			Name:             "Pulmonary nodule",
			Description:      "A small rounded opacity in the lung.",
			Synonyms:         []string{"lung nodule", "pulmonary nodules"},
			AnatomicLocation: &Location{Text: "lung", ID: "RID1301"},
			BodyRegions:      []string{"chest"},
			Modalities:       []string{"CT", "XR"},
			Subspecialties:   []string{"CH", "OI", "ZZ"},
			Etiologies:       []string{"neoplastic:benign", "inflammatory:infectious", "post-inflammatory"},
			OntologyCodes:    []OntologyCode{{System: "RADLEX", Code: "RID50149", Display: "pulmonary nodule"}},
			Attributes:       []string{"presence", "size"},
		},
		"OIFM_MSFT_000002": {
			Name:        "Lymphadenopathy",
			BodyRegions: []string{"Whole_Body"},
		},
		"OIFM_MSFT_000003": {
			Name:        "Vertebral compression fracture",
			BodyRegions: []string{"spine", "Chest"},
		},
		"OIFM_MSFT_000004": {
			Name:             "Hepatic steatosis",
			AnatomicLocation: &Location{},
		},
	}
}

func TestFormatEtiology(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"inflammatory:infectious", "Inflammatory (infectious)"},
		{"neoplastic:benign", "Neoplastic (benign)"},
		{"post-traumatic", "Post Traumatic"},
		{"degenerative", "Degenerative"},
		{"vascular:non-thrombotic", "Vascular (non thrombotic)"},
		{"CONGENITAL", "Congenital"},
	}
	for _, tt := range tests {
		if got := FormatEtiology(tt.in); got != tt.want {
			t.Errorf("FormatEtiology(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandSubspecialty(t *testing.T) {
	if got := ExpandSubspecialty("HN"); got != "Head & Neck" {
		t.Errorf("expected Head & Neck, got %q", got)
	}
	if got := ExpandSubspecialty("ZZ"); got != "ZZ" {
		t.Errorf("expected unknown code unchanged, got %q", got)
	}
}

func TestProcess(t *testing.T) {
	defs := sampleDefinitions()
	info := Process("OIFM_MSFT_134126", defs["OIFM_MSFT_134126"])

	if info.Code != "OIFM_MSFT_134126" || info.Name != "Pulmonary nodule" {
		t.Errorf("unexpected identity %+v", info)
	}
	if info.Synonyms != "lung nodule, pulmonary nodules" {
		t.Errorf("unexpected synonyms %q", info.Synonyms)
	}
	if info.Location == nil || info.Location.Text != "lung" || info.Location.RadlexID != "RID1301" {
		t.Errorf("unexpected location %+v", info.Location)
	}
	if info.Modalities != "CT, XR" || info.Regions != "chest" {
		t.Errorf("unexpected modalities/regions %q %q", info.Modalities, info.Regions)
	}
	if info.Subspecialties != "Chest Imaging, Oncologic Imaging, ZZ" {
		t.Errorf("unexpected subspecialties %q", info.Subspecialties)
	}
	if info.Etiologies != "Neoplastic (benign), Inflammatory (infectious), Post Inflammatory" {
		t.Errorf("unexpected etiologies %q", info.Etiologies)
	}
	if len(info.OntologyCodes) != 1 || info.OntologyCodes[0].Code != "RID50149" {
		t.Errorf("unexpected ontology codes %+v", info.OntologyCodes)
	}
	if info.Attributes != "presence, size" {
		t.Errorf("unexpected attributes %q", info.Attributes)
	}
}

func TestProcess_OmitsEmptyFields(t *testing.T) {
	info := Process("OIFM_MSFT_000004", sampleDefinitions()["OIFM_MSFT_000004"])
	if info.Location != nil {
		t.Error("expected empty location to be omitted")
	}

	data, err := json.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"synonyms", "location", "regions", "modalities", "subspecialties", "etiologies", "ontology_codes", "attributes"} {
		if _, ok := m[key]; ok {
			t.Errorf("expected %s to be omitted", key)
		}
	}
	for _, key := range []string{"code", "name", "description"} {
		if _, ok := m[key]; !ok {
			t.Errorf("expected %s to be present", key)
		}
	}
}

func TestRegionTable(t *testing.T) {
	table := RegionTable(sampleDefinitions())

	if len(table) != 3 {
		t.Fatalf("expected 3 entries, got %v", table)
	}
	tests := []struct {
		name string
		want problemlist.RegionSet
	}{
		{"Pulmonary nodule", problemlist.RegionSet{"chest"}},
		{"Lymphadenopathy", problemlist.RegionSet{problemlist.RegionAll}},
		{"Vertebral compression fracture", problemlist.RegionSet{"msk", "chest"}},
	}
	for _, tt := range tests {
		got := table[tt.name]
		if len(got) != len(tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
			}
		}
	}
	if _, ok := table["Hepatic steatosis"]; ok {
		t.Error("expected definition without body regions to be left out")
	}

	// the derived table drives region classification
	c := problemlist.NewRegionClassifier(table)
	if rs, src := c.Resolve("Lymphadenopathy"); !rs.IsAll() || src != problemlist.RegionFromTable {
		t.Errorf("expected ALL from table, got %v (%v)", rs, src)
	}
}

func TestLoadDefinitions_Catalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enriched_findings.json")
	data, err := json.Marshal(sampleDefinitions())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cat := NewCatalog(defs)
	if cat.Len() != 4 {
		t.Errorf("expected 4 entries, got %d", cat.Len())
	}
	if _, ok := cat.Lookup("OIFM_MSFT_000002"); !ok {
		t.Error("expected OIFM_MSFT_000002 in catalog")
	}
	if _, ok := cat.Lookup("missing"); ok {
		t.Error("expected lookup miss")
	}

	if _, err := LoadDefinitions(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHandler_GetInfo(t *testing.T) {
	h := NewHandler(NewCatalog(sampleDefinitions()))
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("code")
	c.SetParamValues("OIFM_MSFT_134126")

	if err := h.GetInfo(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var info Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info.Name != "Pulmonary nodule" {
		t.Errorf("unexpected info %+v", info)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("code")
	c.SetParamValues("unknown")
	err := h.GetInfo(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	NewHandler(NewCatalog(sampleDefinitions())).RegisterRoutes(e.Group("/api/v1"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/findings/OIFM_MSFT_000002/info", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without roles, got %d", rec.Code)
	}

	req = req.WithContext(context.WithValue(req.Context(), auth.UserRolesKey, []string{auth.RoleNurse}))
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
