package efl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openimagingdata/ipl/internal/domain/problemlist"
)

// Skipped is an EFL finding left out of a record.
type Skipped struct {
	ReportID      string
	ObservationID string
	Err           error
}

// BuildRecord folds a patient's EFLs into a longitudinal record. Findings
// are grouped across exams by finding code and ordered by code; each
// finding's observations are ordered by exam date, keeping input order
// between observations of the same date. Patient identity comes from the
// first EFL. Findings without a presence attribute are skipped and
// returned.
func BuildRecord(efls []*ExamFindingList, patientName string) (*problemlist.Record, []Skipped, error) {
	if len(efls) == 0 {
		return nil, nil, ErrNoExams
	}

	var (
		skipped []Skipped
		codes   []string
		byCode  = make(map[string]*problemlist.Finding)
	)
	for _, e := range efls {
		examDate := problemlist.DatePart(e.ExamInfo.StudyDateTime)
		for _, f := range e.Findings {
			presence, err := f.Presence()
			if err != nil {
				skipped = append(skipped, Skipped{ReportID: e.DiagnosticReportID, ObservationID: f.ObservationID, Err: err})
				continue
			}

			finding, ok := byCode[f.FindingCode]
			if !ok {
				finding = &problemlist.Finding{
					FindingTypeCode:    f.FindingCode,
					FindingTypeDisplay: f.FindingDescription,
				}
				byCode[f.FindingCode] = finding
				codes = append(codes, f.FindingCode)
			}

			obs := problemlist.Observation{
				ReportID:        e.DiagnosticReportID,
				ObservationID:   f.ObservationID,
				ExamDate:        examDate,
				ExamTypeCode:    e.ExamInfo.StudyLoincCode,
				ExamTypeDisplay: e.ExamInfo.StudyDescription,
				Presence:        problemlist.Presence(presence),
			}
			if f.ReportText != "" {
				text := f.ReportText
				obs.ReportText = &text
			}
			finding.Observations = append(finding.Observations, obs)
		}
	}

	sort.Strings(codes)
	rec := &problemlist.Record{
		Schema: RecordSchemaURL,
		Patient: problemlist.Patient{
			ID:   efls[0].PatientInfo.PatientIdentifier,
			Name: patientName,
			DOB:  efls[0].PatientInfo.PatientDOB,
		},
		Findings: make([]problemlist.Finding, 0, len(codes)),
	}
	for i, code := range codes {
		f := byCode[code]
		sort.SliceStable(f.Observations, func(a, b int) bool {
			return f.Observations[a].ExamDate < f.Observations[b].ExamDate
		})
		f.ID = fmt.Sprintf("ipl-finding-%03d", i+1)
		rec.Findings = append(rec.Findings, *f)
	}
	return rec, skipped, nil
}

// WriteLayout writes a record and its EFLs into the viewer data layout
// rooted at dir, adding the patient to patients.json.
func WriteLayout(dir string, rec *problemlist.Record, efls []*ExamFindingList) error {
	if !problemlist.ValidID(rec.Patient.ID) {
		return fmt.Errorf("%w: %q", problemlist.ErrInvalidID, rec.Patient.ID)
	}
	patientDir := filepath.Join(dir, "patients", rec.Patient.ID)

	if err := WriteJSON(filepath.Join(patientDir, "patient.json"), rec.Patient); err != nil {
		return fmt.Errorf("write patient: %w", err)
	}
	if err := WriteJSON(filepath.Join(patientDir, "ipl.json"), rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	for _, e := range efls {
		if !problemlist.ValidID(e.DiagnosticReportID) {
			return fmt.Errorf("%w: %q", problemlist.ErrInvalidID, e.DiagnosticReportID)
		}
		p := filepath.Join(patientDir, "exams", e.DiagnosticReportID, "efl.json")
		if err := WriteJSON(p, e); err != nil {
			return fmt.Errorf("write exam %s: %w", e.DiagnosticReportID, err)
		}
	}
	return addToIndex(dir, rec.Patient)
}

type patientIndex struct {
	Patients []problemlist.Patient `json:"patients"`
}

func addToIndex(dir string, p problemlist.Patient) error {
	path := filepath.Join(dir, "patients.json")
	var idx patientIndex
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &idx); err != nil {
			return fmt.Errorf("decode patients.json: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	replaced := false
	for i := range idx.Patients {
		if idx.Patients[i].ID == p.ID {
			idx.Patients[i] = p
			replaced = true
		}
	}
	if !replaced {
		idx.Patients = append(idx.Patients, p)
	}
	return WriteJSON(path, idx)
}

// ExamOf returns the exam an EFL describes. The report text is the EFL's
// captured report sentences, one per line, in finding order.
func ExamOf(e *ExamFindingList) *problemlist.Exam {
	exam := &problemlist.Exam{ReportID: e.DiagnosticReportID}
	if e.ExamInfo.StudyDateTime != "" {
		dt := e.ExamInfo.StudyDateTime
		exam.Metadata.StudyDateTime = &dt
	}
	if e.ExamInfo.StudyDescription != "" {
		desc := e.ExamInfo.StudyDescription
		exam.Metadata.StudyDescription = &desc
	}
	var lines []string
	for _, f := range e.Findings {
		if f.ReportText != "" {
			lines = append(lines, f.ReportText)
		}
	}
	exam.ReportText = strings.Join(lines, "\n")
	return exam
}
