package problemlist

import (
	"strings"
	"time"
)

// Presence is the assessed presence of a finding in one exam.
type Presence string

const (
	PresencePresent Presence = "present"
	PresenceAbsent  Presence = "absent"
)

// IsPresent reports whether the presence value denotes a present finding.
// Anything other than "present" (absent, indeterminate, empty) counts as not present.
func (p Presence) IsPresent() bool {
	return strings.EqualFold(strings.TrimSpace(string(p)), string(PresencePresent))
}

// Observation is one assessment of a finding in a single exam report.
type Observation struct {
	ReportID        string   `json:"report_id"`
	ObservationID   string   `json:"observation_id,omitempty"`
	ExamDate        string   `json:"exam_date"`
	ExamTypeCode    string   `json:"exam_type_code,omitempty"`
	ExamTypeDisplay string   `json:"exam_type_display"`
	Presence        Presence `json:"presence"`
	ReportText      *string  `json:"reportText,omitempty"`
}

// Text returns the quoted evidence, or "" when none was recorded.
func (o Observation) Text() string {
	if o.ReportText == nil {
		return ""
	}
	return *o.ReportText
}

// Finding is one tracked finding type followed across a patient's exams.
// Observations are kept in source order.
type Finding struct {
	ID                 string        `json:"id,omitempty"`
	FindingTypeCode    string        `json:"finding_type_code"`
	FindingTypeDisplay string        `json:"finding_type_display"`
	Observations       []Observation `json:"observations"`
}

// Patient identifies the subject of a longitudinal record.
type Patient struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	DOB  string `json:"dob,omitempty"`
}

// Record is a patient's longitudinal imaging problem list as loaded from a
// record source.
type Record struct {
	Schema   string    `json:"$schema,omitempty"`
	Patient  Patient   `json:"patient"`
	Findings []Finding `json:"findings"`
}

// ObservationGroup aggregates the observations of one finding that share a
// source report.
type ObservationGroup struct {
	ReportID        string        `json:"report_id"`
	ExamDate        string        `json:"exam_date"`
	ExamTypeDisplay string        `json:"exam_type_display"`
	Presence        Presence      `json:"presence"`
	ReportText      string        `json:"report_text"`
	Count           int           `json:"count"`
	Observations    []Observation `json:"observations"`
}

// EnrichedFinding is a finding with its longitudinal status and regions.
type EnrichedFinding struct {
	Finding
	Status      Status    `json:"status"`
	StatusLabel string    `json:"status_label"`
	Regions     RegionSet `json:"regions"`
}

// ExamMetadata is exam-level metadata supplied alongside a report. Both
// fields are optional.
type ExamMetadata struct {
	StudyDateTime    *string `json:"studyDateTime,omitempty"`
	StudyDescription *string `json:"studyDescription,omitempty"`
}

// Exam is a single exam as returned by a record source: its metadata and raw
// report text.
type Exam struct {
	ReportID   string       `json:"report_id"`
	Metadata   ExamMetadata `json:"metadata"`
	ReportText string       `json:"report_text"`
}

// ExamFinding is a finding scoped to a single exam, annotated with the
// finding's full-history status.
type ExamFinding struct {
	FindingTypeCode    string        `json:"finding_type_code"`
	FindingTypeDisplay string        `json:"finding_type_display"`
	Observations       []Observation `json:"observations"`
	Count              int           `json:"count"`
	Evidence           []string      `json:"evidence"`
	EvidenceText       string        `json:"evidence_text"`
	Status             Status        `json:"status"`
	StatusLabel        string        `json:"status_label"`
	Regions            RegionSet     `json:"regions"`
}

// ExamView is the per-exam drill-down of a patient's problem list.
// ExamTypeShort is the mapped short name of ExamType, when one exists.
type ExamView struct {
	ReportID      string                 `json:"report_id"`
	ExamDate      string                 `json:"exam_date"`
	ExamType      string                 `json:"exam_type"`
	ExamTypeShort string                 `json:"exam_type_short,omitempty"`
	ReportText    string                 `json:"report_text"`
	Findings      []ExamFinding          `json:"findings"`
	Sections      []Section[ExamFinding] `json:"sections"`
}

// Unknown is the display value used when exam metadata cannot be resolved.
const Unknown = "Unknown"

// ParseExamDate parses an ISO date or date-time. The boolean is false when
// the value cannot be parsed.
func ParseExamDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// newerThan reports whether date a sorts strictly after date b. Unparseable
// dates sort last (oldest); two unparseable dates are equal.
func newerThan(a, b string) bool {
	ta, okA := ParseExamDate(a)
	tb, okB := ParseExamDate(b)
	switch {
	case okA && okB:
		return ta.After(tb)
	case okA:
		return true
	default:
		return false
	}
}

// DatePart returns the YYYY-MM-DD part of an ISO date-time, or the input
// unchanged when it has no time component.
func DatePart(s string) string {
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		return s[:i]
	}
	return s
}
