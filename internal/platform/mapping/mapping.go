// Package mapping loads the lookup tables that steer the problem list: the
// authoritative finding-to-region table and the exam type short names.
// Tables are YAML or JSON files and can be reloaded while the server runs.
package mapping

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openimagingdata/ipl/internal/domain/problemlist"
)

var ErrUnsupportedFormat = errors.New("unsupported mapping file format")

// Table names, used in logs and metrics.
const (
	TableRegions   = "regions"
	TableExamTypes = "exam_types"
)

// Regions is the region set of one table entry. It decodes from the scalar
// "ALL", a list of tags, or a mapping with a "regions" key holding either.
type Regions []string

func (r *Regions) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*r = Regions{n.Value}
		return nil
	case yaml.SequenceNode:
		var tags []string
		if err := n.Decode(&tags); err != nil {
			return err
		}
		*r = tags
		return nil
	case yaml.MappingNode:
		var entry struct {
			Regions Regions `yaml:"regions"`
		}
		if err := n.Decode(&entry); err != nil {
			return err
		}
		*r = entry.Regions
		return nil
	}
	return fmt.Errorf("line %d: regions must be \"ALL\", a list or a mapping", n.Line)
}

func checkFormat(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

// ParseRegionTable decodes a region table. JSON input is accepted since it
// is valid YAML.
func ParseRegionTable(data []byte) (problemlist.RegionTable, error) {
	var raw map[string]Regions
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode region table: %w", err)
	}
	table := make(problemlist.RegionTable, len(raw))
	for display, tags := range raw {
		rs := problemlist.NormalizeRegions(tags)
		if len(rs) == 0 {
			continue
		}
		table[display] = rs
	}
	return table, nil
}

// LoadRegionTable reads a region table from a .yaml, .yml or .json file.
func LoadRegionTable(path string) (problemlist.RegionTable, error) {
	if err := checkFormat(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read region table: %w", err)
	}
	return ParseRegionTable(data)
}

// WriteRegionTable writes a region table as YAML. ALL entries are written as
// the scalar sentinel.
func WriteRegionTable(path string, table problemlist.RegionTable) error {
	out := make(map[string]interface{}, len(table))
	for display, rs := range table {
		if rs.IsAll() {
			out[display] = problemlist.RegionAll
			continue
		}
		out[display] = []string(rs)
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode region table: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ParseExamTypes decodes a flat full-name to short-name mapping.
func ParseExamTypes(data []byte) (map[string]string, error) {
	m := map[string]string{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode exam type mappings: %w", err)
	}
	return m, nil
}

// LoadExamTypes reads exam type short names from a .yaml, .yml or .json file.
func LoadExamTypes(path string) (map[string]string, error) {
	if err := checkFormat(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read exam type mappings: %w", err)
	}
	return ParseExamTypes(data)
}
