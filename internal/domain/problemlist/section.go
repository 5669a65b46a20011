package problemlist

import (
	"fmt"
	"strings"
)

// StatusFilter selects findings by longitudinal status.
type StatusFilter string

const (
	FilterAll         StatusFilter = "all"
	FilterCurrent     StatusFilter = "current"
	FilterResolved    StatusFilter = "resolved"
	FilterEverPresent StatusFilter = "ever-present"
	FilterNever       StatusFilter = "never"
)

// ParseStatusFilter parses a status filter. The simple vocabulary's names
// "present" and "ruled-out" are accepted as aliases of current and never.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FilterAll, nil
	case "current", "present":
		return FilterCurrent, nil
	case "resolved":
		return FilterResolved, nil
	case "ever-present":
		return FilterEverPresent, nil
	case "never", "ruled-out":
		return FilterNever, nil
	}
	return "", fmt.Errorf("invalid status filter %q", s)
}

// Match reports whether a status passes the filter. A persistent (always)
// finding is also current.
func (f StatusFilter) Match(s Status) bool {
	switch f {
	case FilterAll, "":
		return true
	case FilterCurrent:
		return s == StatusCurrent || s == StatusAlways || s == StatusPresent
	case FilterResolved:
		return s == StatusResolved
	case FilterEverPresent:
		return s.EverPresent()
	case FilterNever:
		return s == StatusNever || s == StatusRuledOut
	}
	return false
}

// Filter holds the user's status and region selection.
type Filter struct {
	Status StatusFilter `json:"status"`
	Region string       `json:"region"`
}

// ParseFilter validates raw status and region values. An empty region, or
// "all" in any case, selects every region.
func ParseFilter(status, region string) (Filter, error) {
	sf, err := ParseStatusFilter(status)
	if err != nil {
		return Filter{}, err
	}
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" {
		region = "all"
	}
	return Filter{Status: sf, Region: region}, nil
}

func (f Filter) matchRegion(rs RegionSet) bool {
	if f.Region == "" || f.Region == "all" {
		return true
	}
	return rs.Matches(f.Region)
}

// Apply returns the findings passing both filters, in input order.
func (f Filter) Apply(findings []EnrichedFinding) []EnrichedFinding {
	out := make([]EnrichedFinding, 0, len(findings))
	for _, ef := range findings {
		if f.Status.Match(ef.Status) && f.matchRegion(ef.Regions) {
			out = append(out, ef)
		}
	}
	return out
}

// Section is a named display bucket of items sharing one status.
type Section[T any] struct {
	Status Status `json:"status"`
	Label  string `json:"label"`
	Items  []T    `json:"items"`
}

// Partition buckets items by status in the vocabulary's section order,
// keeping relative input order inside each bucket. Empty buckets are
// omitted. Items whose status is outside the vocabulary land in Unknown.
func Partition[T any](items []T, statusOf func(T) Status, v Vocabulary) []Section[T] {
	order := v.SectionOrder()
	buckets := make(map[Status][]T, len(order))
	known := make(map[Status]bool, len(order))
	for _, s := range order {
		known[s] = true
	}
	for _, it := range items {
		s := statusOf(it)
		if !known[s] {
			s = StatusUnknown
		}
		buckets[s] = append(buckets[s], it)
	}

	sections := make([]Section[T], 0, len(order))
	for _, s := range order {
		if len(buckets[s]) == 0 {
			continue
		}
		sections = append(sections, Section[T]{Status: s, Label: s.Label(), Items: buckets[s]})
	}
	return sections
}
