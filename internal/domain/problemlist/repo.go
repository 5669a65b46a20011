package problemlist

import (
	"context"
	"errors"
	"regexp"
)

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrReportNotFound  = errors.New("report not found")
	ErrFindingNotFound = errors.New("finding not found")
	ErrInvalidID       = errors.New("invalid identifier")
)

// RecordRepository loads already-assembled longitudinal records and exam
// reports. Implementations are the only components of the problem list that
// perform I/O.
type RecordRepository interface {
	ListPatients(ctx context.Context) ([]Patient, error)
	GetRecord(ctx context.Context, patientID string) (*Record, error)
	GetExam(ctx context.Context, patientID, reportID string) (*Exam, error)
}

// RecordWriter stores a longitudinal record. Only the Postgres source
// accepts writes.
type RecordWriter interface {
	SaveRecord(ctx context.Context, rec *Record) error
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]*$`)

// ValidID reports whether a patient or report id is safe to use as a path
// segment or cache key.
func ValidID(id string) bool {
	return len(id) <= 128 && idPattern.MatchString(id) && id != ".." && id != "."
}

// patientsIndex is the shape of patients.json.
type patientsIndex struct {
	Patients []Patient `json:"patients"`
}

// examFile is the subset of an exam finding list the repositories read.
type examFile struct {
	DiagnosticReportID string       `json:"diagnosticReportId"`
	ExamInfo           ExamMetadata `json:"examInfo"`
}
