package problemlist

import (
	"sort"
	"strings"
)

// Region tags.
const (
	RegionAll     = "ALL"
	RegionChest   = "chest"
	RegionAbdomen = "abdomen"
	RegionPelvis  = "pelvis"
	RegionMSK     = "msk"
	RegionHead    = "head"
	RegionOther   = "other"
)

// RegionSet is the set of anatomical regions a finding applies to. It is
// never empty once classified; {ALL} applies to every region.
type RegionSet []string

// IsAll reports whether the set holds the ALL sentinel.
func (rs RegionSet) IsAll() bool {
	for _, r := range rs {
		if r == RegionAll {
			return true
		}
	}
	return false
}

// Matches reports whether a region filter tag selects this set. The ALL
// sentinel matches every tag.
func (rs RegionSet) Matches(tag string) bool {
	for _, r := range rs {
		if r == RegionAll || r == tag {
			return true
		}
	}
	return false
}

type regionRule struct {
	region   string
	keywords []string
}

// keywordRules are scanned in priority order; the first region with a
// matching keyword wins.
var keywordRules = []regionRule{
	{RegionChest, []string{"pulmonary", "lung", "pleural", "mediastinal", "hilar", "coronary", "diaphragm", "pneumothorax", "nodule"}},
	{RegionAbdomen, []string{"liver", "hepatic", "pancrea", "spleen", "splenic", "abdom"}},
	{RegionPelvis, []string{"urinary", "bladder", "prostate", "uterine", "pelvi", "calcul"}},
	{RegionMSK, []string{"bone", "joint", "fracture", "osteo", "vertebr", "skeletal"}},
	{RegionHead, []string{"brain", "intracranial", "sinus", "cranial", "cerebr"}},
}

// RegionTable is an authoritative mapping from finding display name to
// regions.
type RegionTable map[string]RegionSet

// NormalizeRegions canonicalizes raw region tags: "ALL" (any case) collapses
// the set to {ALL}, other tags are lower-cased and de-duplicated in order.
func NormalizeRegions(tags []string) RegionSet {
	seen := make(map[string]bool, len(tags))
	out := make(RegionSet, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.EqualFold(t, RegionAll) {
			return RegionSet{RegionAll}
		}
		t = strings.ToLower(t)
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// RegionSource tells where a classification came from.
type RegionSource int

const (
	RegionFromTable RegionSource = iota
	RegionFromKeyword
	RegionFromFallback
)

// RegionClassifier maps finding display names to region sets. The zero
// value classifies by keyword only.
type RegionClassifier struct {
	table RegionTable
}

// NewRegionClassifier returns a classifier backed by an optional table.
func NewRegionClassifier(table RegionTable) *RegionClassifier {
	return &RegionClassifier{table: table}
}

// Classify returns the region set of a finding display name.
func (c *RegionClassifier) Classify(display string) RegionSet {
	rs, _ := c.Resolve(display)
	return rs
}

// Resolve returns the region set of a display name and where it came from:
// an exact table entry wins, then keyword inference, then {other}.
func (c *RegionClassifier) Resolve(display string) (RegionSet, RegionSource) {
	if c != nil && c.table != nil {
		if rs, ok := c.table[display]; ok {
			if rs = NormalizeRegions(rs); len(rs) > 0 {
				return rs, RegionFromTable
			}
		}
	}

	lower := strings.ToLower(display)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return RegionSet{rule.region}, RegionFromKeyword
			}
		}
	}
	return RegionSet{RegionOther}, RegionFromFallback
}

// AvailableRegions lists the distinct region tags across findings, sorted,
// excluding the ALL sentinel.
func AvailableRegions(findings []EnrichedFinding) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range findings {
		for _, r := range f.Regions {
			if r == RegionAll || seen[r] {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}
