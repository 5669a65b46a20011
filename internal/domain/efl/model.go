// Package efl handles exam finding lists (EFLs): the per-exam documents
// that list each finding assessed in one report. It imports EFLs from
// spreadsheets and folds a patient's EFLs into a longitudinal record.
package efl

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// SchemaURL identifies the exam finding list document format.
	SchemaURL = "https://github.com/openimagingdata/imaging-problem-list/schema/exam-problem-list-schema.json"
	// RecordSchemaURL identifies the longitudinal record document format.
	RecordSchemaURL = "http://example.com/schemas/imaging_problem_list.json"

	// PresenceAttribute is the attribute description carrying presence.
	PresenceAttribute = "presence"

	fileSuffix = "_efl.json"
)

var (
	ErrNoPresence    = errors.New("observation has no presence attribute")
	ErrNoExams       = errors.New("no exam finding lists found")
	ErrMissingColumn = errors.New("required column missing")
)

type PatientInfo struct {
	PatientIdentifier string `json:"patientIdentifier"`
	PatientDOB        string `json:"patientDOB"`
}

type ExamInfo struct {
	StudyIdentifier  string `json:"studyIdentifier"`
	StudyDateTime    string `json:"studyDateTime"`
	StudyLoincCode   string `json:"studyLoincCode"`
	StudyDescription string `json:"studyDescription"`
}

type Attribute struct {
	AttributeCode             string `json:"attributeCode"`
	AttributeDescription      string `json:"attributeDescription"`
	AttributeValueCode        string `json:"attributeValueCode"`
	AttributeValueDescription string `json:"attributeValueDescription"`
}

// Finding is one finding assessed in an exam. ReportText holds the quoted
// report sentence, when one was captured.
type Finding struct {
	ObservationID      string      `json:"observationId"`
	FindingCode        string      `json:"findingCode"`
	FindingDescription string      `json:"findingDescription"`
	Attributes         []Attribute `json:"attributes"`
	ReportText         string      `json:"reportText,omitempty"`
}

// Presence returns the value of the finding's presence attribute.
func (f Finding) Presence() (string, error) {
	for _, a := range f.Attributes {
		if a.AttributeDescription == PresenceAttribute {
			return a.AttributeValueDescription, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoPresence, f.ObservationID)
}

// ExamFindingList is the finding list of a single exam report.
type ExamFindingList struct {
	Schema             string      `json:"$schema,omitempty"`
	DiagnosticReportID string      `json:"diagnosticReportId"`
	PatientInfo        PatientInfo `json:"patientInfo"`
	ExamInfo           ExamInfo    `json:"examInfo"`
	Findings           []Finding   `json:"findings"`
}

// FileName is the conventional file name of an EFL, derived from its study
// identifier.
func (e *ExamFindingList) FileName() string {
	return strings.ToLower(e.ExamInfo.StudyIdentifier) + fileSuffix
}

// ReadFile decodes one EFL document.
func ReadFile(path string) (*ExamFindingList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e ExamFindingList
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &e, nil
}

// ReadDir decodes every *_efl.json file in dir in file name order. File
// names start with the study identifier, which ends in the study date.
func ReadDir(dir string) ([]*ExamFindingList, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+fileSuffix))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoExams, dir)
	}
	sort.Strings(paths)

	out := make([]*ExamFindingList, 0, len(paths))
	for _, p := range paths {
		e, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// WriteJSON writes v as indented JSON, creating parent directories.
func WriteJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// WriteDir writes each EFL into dir under its conventional file name and
// returns the paths written.
func WriteDir(dir string, efls []*ExamFindingList) ([]string, error) {
	paths := make([]string, 0, len(efls))
	for _, e := range efls {
		p := filepath.Join(dir, e.FileName())
		if err := WriteJSON(p, e); err != nil {
			return paths, fmt.Errorf("write %s: %w", e.FileName(), err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
