package problemlist

import (
	"fmt"
	"strings"
)

// Status is a finding's longitudinal status, derived from its observations.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusCurrent  Status = "current"
	StatusAlways   Status = "always"
	StatusResolved Status = "resolved"
	StatusNever    Status = "never"

	// Statuses of the simple vocabulary.
	StatusPresent  Status = "present"
	StatusRuledOut Status = "ruled-out"
)

var statusLabels = map[Status]string{
	StatusUnknown:  "Unknown",
	StatusCurrent:  "Current",
	StatusAlways:   "Always",
	StatusResolved: "Resolved",
	StatusNever:    "Never",
	StatusPresent:  "Present",
	StatusRuledOut: "Ruled out",
}

// Label returns the fixed human label paired with the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return statusLabels[StatusUnknown]
}

// EverPresent reports whether the status denotes a finding that was present
// in at least one exam.
func (s Status) EverPresent() bool {
	switch s {
	case StatusCurrent, StatusAlways, StatusResolved, StatusPresent:
		return true
	}
	return false
}

// Vocabulary selects the set of status codes used for classification,
// filtering and sectioning. Both vocabularies share one decision table.
type Vocabulary string

const (
	// VocabularyLongitudinal distinguishes persistent (always) from current findings.
	VocabularyLongitudinal Vocabulary = "longitudinal"
	// VocabularySimple collapses current/always into present and names never ruled-out.
	VocabularySimple Vocabulary = "simple"
)

// ParseVocabulary parses a configured vocabulary name. Empty selects the
// longitudinal vocabulary.
func ParseVocabulary(s string) (Vocabulary, error) {
	switch Vocabulary(strings.ToLower(strings.TrimSpace(s))) {
	case "", VocabularyLongitudinal:
		return VocabularyLongitudinal, nil
	case VocabularySimple:
		return VocabularySimple, nil
	}
	return "", fmt.Errorf("unknown status vocabulary %q", s)
}

// SectionOrder returns the statuses of the vocabulary in display order.
func (v Vocabulary) SectionOrder() []Status {
	if v == VocabularySimple {
		return []Status{StatusPresent, StatusResolved, StatusRuledOut, StatusUnknown}
	}
	return []Status{StatusCurrent, StatusAlways, StatusResolved, StatusNever, StatusUnknown}
}

func (v Vocabulary) translate(s Status) Status {
	if v != VocabularySimple {
		return s
	}
	switch s {
	case StatusCurrent, StatusAlways:
		return StatusPresent
	case StatusNever:
		return StatusRuledOut
	}
	return s
}

// Classify derives the longitudinal status of a finding from its full
// observation history. It is total: an empty history is unknown.
func (v Vocabulary) Classify(observations []Observation) (Status, string) {
	s := v.translate(classify(observations))
	return s, s.Label()
}

func classify(observations []Observation) Status {
	if len(observations) == 0 {
		return StatusUnknown
	}

	mostRecent := 0
	everPresent, allPresent := false, true
	for i, o := range observations {
		if newerThan(o.ExamDate, observations[mostRecent].ExamDate) {
			mostRecent = i
		}
		if o.Presence.IsPresent() {
			everPresent = true
		} else {
			allPresent = false
		}
	}

	switch {
	case observations[mostRecent].Presence.IsPresent():
		if allPresent && len(observations) > 1 {
			return StatusAlways
		}
		return StatusCurrent
	case everPresent:
		return StatusResolved
	default:
		return StatusNever
	}
}
