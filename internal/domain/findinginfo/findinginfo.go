// Package findinginfo turns enriched finding definitions into the compact
// display info shown when a finding is inspected, and derives a region
// table from their body regions.
package findinginfo

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/openimagingdata/ipl/internal/domain/problemlist"
)

// Location is an anatomic location with its RadLex id.
type Location struct {
	Text string `json:"text"`
	ID   string `json:"id"`
}

type OntologyCode struct {
	System  string `json:"system"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

// Definition is one entry of enriched_findings.json.
type Definition struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Synonyms         []string       `json:"synonyms"`
	AnatomicLocation *Location      `json:"anatomic_location"`
	BodyRegions      []string       `json:"body_regions"`
	Modalities       []string       `json:"modalities"`
	Subspecialties   []string       `json:"subspecialties"`
	Etiologies       []string       `json:"etiologies"`
	OntologyCodes    []OntologyCode `json:"ontology_codes"`
	Attributes       []string       `json:"attributes"`
}

type DisplayLocation struct {
	Text     string `json:"text"`
	RadlexID string `json:"radlex_id"`
}

// Info is the display form of a finding definition. List fields are
// joined with ", " and omitted when empty.
type Info struct {
	Code           string           `json:"code"`
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	Synonyms       string           `json:"synonyms,omitempty"`
	Location       *DisplayLocation `json:"location,omitempty"`
	Regions        string           `json:"regions,omitempty"`
	Modalities     string           `json:"modalities,omitempty"`
	Subspecialties string           `json:"subspecialties,omitempty"`
	Etiologies     string           `json:"etiologies,omitempty"`
	OntologyCodes  []OntologyCode   `json:"ontology_codes,omitempty"`
	Attributes     string           `json:"attributes,omitempty"`
}

var subspecialtyNames = map[string]string{
	"AB": "Abdominal Imaging",
	"BR": "Breast Imaging",
	"CA": "Cardiac Imaging",
	"CH": "Chest Imaging",
	"ER": "Emergency Radiology",
	"GI": "Gastrointestinal",
	"GU": "Genitourinary",
	"HN": "Head & Neck",
	"IR": "Interventional Radiology",
	"MK": "Musculoskeletal",
	"NR": "Neuroradiology",
	"NM": "Nuclear Medicine",
	"OB": "OB/GYN",
	"OI": "Oncologic Imaging",
	"PD": "Pediatric Radiology",
	"VI": "Vascular Imaging",
}

// ExpandSubspecialty returns the full name of a subspecialty code, or the
// code itself when unknown.
func ExpandSubspecialty(code string) string {
	if name, ok := subspecialtyNames[code]; ok {
		return name
	}
	return code
}

// FormatEtiology renders an etiology for display:
// "inflammatory:infectious" becomes "Inflammatory (infectious)" and
// "post-traumatic" becomes "Post Traumatic".
func FormatEtiology(etiology string) string {
	main, sub, ok := strings.Cut(etiology, ":")
	main = titleCase(strings.ReplaceAll(main, "-", " "))
	if !ok {
		return main
	}
	return main + " (" + strings.ReplaceAll(sub, "-", " ") + ")"
}

// titleCase upper-cases the first letter of each run of letters and
// lower-cases the rest.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if prevLetter {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(unicode.ToUpper(r))
		}
		prevLetter = unicode.IsLetter(r)
	}
	return b.String()
}

func join(items []string, format func(string) string) string {
	if len(items) == 0 {
		return ""
	}
	if format == nil {
		return strings.Join(items, ", ")
	}
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = format(s)
	}
	return strings.Join(out, ", ")
}

// Process converts one definition to display info.
func Process(code string, d Definition) Info {
	info := Info{
		Code:           code,
		Name:           d.Name,
		Description:    d.Description,
		Synonyms:       join(d.Synonyms, nil),
		Regions:        join(d.BodyRegions, nil),
		Modalities:     join(d.Modalities, nil),
		Subspecialties: join(d.Subspecialties, ExpandSubspecialty),
		Etiologies:     join(d.Etiologies, FormatEtiology),
		Attributes:     join(d.Attributes, nil),
	}
	if loc := d.AnatomicLocation; loc != nil && (loc.Text != "" || loc.ID != "") {
		info.Location = &DisplayLocation{Text: loc.Text, RadlexID: loc.ID}
	}
	if len(d.OntologyCodes) > 0 {
		info.OntologyCodes = append([]OntologyCode(nil), d.OntologyCodes...)
	}
	return info
}

// ProcessAll converts every definition, keyed by finding code.
func ProcessAll(defs map[string]Definition) map[string]Info {
	out := make(map[string]Info, len(defs))
	for code, d := range defs {
		out[code] = Process(code, d)
	}
	return out
}

// LoadDefinitions reads enriched_findings.json.
func LoadDefinitions(path string) (map[string]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var defs map[string]Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("decode finding definitions: %w", err)
	}
	return defs, nil
}

// regionAliases maps ontology body regions onto problem list region tags.
var regionAliases = map[string]string{
	"whole body":      problemlist.RegionAll,
	"all":             problemlist.RegionAll,
	"thorax":          problemlist.RegionChest,
	"breast":          problemlist.RegionChest,
	"heart":           problemlist.RegionChest,
	"upper extremity": problemlist.RegionMSK,
	"lower extremity": problemlist.RegionMSK,
	"extremity":       problemlist.RegionMSK,
	"spine":           problemlist.RegionMSK,
	"musculoskeletal": problemlist.RegionMSK,
	"neck":            problemlist.RegionHead,
	"head and neck":   problemlist.RegionHead,
	"brain":           problemlist.RegionHead,
}

// BodyRegionTag maps one body region onto a region tag.
func BodyRegionTag(region string) string {
	key := strings.ToLower(strings.TrimSpace(region))
	if tag, ok := regionAliases[strings.ReplaceAll(key, "_", " ")]; ok {
		return tag
	}
	return key
}

// RegionTable derives a region table keyed by finding name from the
// definitions' body regions. Definitions without body regions are left
// out, so keyword inference still applies to them.
func RegionTable(defs map[string]Definition) problemlist.RegionTable {
	table := make(problemlist.RegionTable)
	codes := make([]string, 0, len(defs))
	for code := range defs {
		codes = append(codes, code)
	}
	// first code wins for duplicate names
	sort.Strings(codes)
	for _, code := range codes {
		d := defs[code]
		if d.Name == "" || len(d.BodyRegions) == 0 {
			continue
		}
		if _, dup := table[d.Name]; dup {
			continue
		}
		tags := make([]string, len(d.BodyRegions))
		for i, r := range d.BodyRegions {
			tags[i] = BodyRegionTag(r)
		}
		if rs := problemlist.NormalizeRegions(tags); len(rs) > 0 {
			table[d.Name] = rs
		}
	}
	return table
}
