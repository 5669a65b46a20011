package problemlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Directory layout shared by the file and HTTP sources:
//
//	patients.json
//	patients/<id>/patient.json
//	patients/<id>/ipl.json
//	patients/<id>/exams/<reportId>/efl.json
//	patients/<id>/exams/<reportId>/report.txt
const (
	patientsIndexPath = "patients.json"
	patientFile       = "patient.json"
	recordFile        = "ipl.json"
	examListFile      = "efl.json"
	reportTextFile    = "report.txt"
)

func patientPath(patientID, name string) string {
	return "patients/" + patientID + "/" + name
}

func examPath(patientID, reportID, name string) string {
	return "patients/" + patientID + "/exams/" + reportID + "/" + name
}

type recordRepoFile struct{ fsys fs.FS }

// NewRecordRepoFile returns a record source reading the viewer data layout
// from a directory.
func NewRecordRepoFile(dir string) RecordRepository {
	return &recordRepoFile{fsys: os.DirFS(dir)}
}

// NewRecordRepoFS is NewRecordRepoFile over an arbitrary file system.
func NewRecordRepoFS(fsys fs.FS) RecordRepository {
	return &recordRepoFile{fsys: fsys}
}

func (r *recordRepoFile) readJSON(name string, v interface{}) error {
	data, err := fs.ReadFile(r.fsys, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(name), err)
	}
	return nil
}

func (r *recordRepoFile) ListPatients(_ context.Context) ([]Patient, error) {
	var idx patientsIndex
	if err := r.readJSON(patientsIndexPath, &idx); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Patient{}, nil
		}
		return nil, fmt.Errorf("list patients: %w", err)
	}
	if idx.Patients == nil {
		idx.Patients = []Patient{}
	}
	return idx.Patients, nil
}

func (r *recordRepoFile) GetRecord(_ context.Context, patientID string) (*Record, error) {
	if !ValidID(patientID) {
		return nil, ErrInvalidID
	}
	var rec Record
	if err := r.readJSON(patientPath(patientID, recordFile), &rec); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("load record %s: %w", patientID, err)
	}

	// patient.json carries the authoritative demographics when present.
	var p Patient
	if err := r.readJSON(patientPath(patientID, patientFile), &p); err == nil && p.ID != "" {
		rec.Patient = p
	}
	if rec.Patient.ID == "" {
		rec.Patient.ID = patientID
	}
	return &rec, nil
}

func (r *recordRepoFile) GetExam(_ context.Context, patientID, reportID string) (*Exam, error) {
	if !ValidID(patientID) || !ValidID(reportID) {
		return nil, ErrInvalidID
	}
	exam := &Exam{ReportID: reportID}
	found := false

	var ef examFile
	switch err := r.readJSON(examPath(patientID, reportID, examListFile), &ef); {
	case err == nil:
		exam.Metadata = ef.ExamInfo
		found = true
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("load exam %s: %w", reportID, err)
	}

	text, err := fs.ReadFile(r.fsys, examPath(patientID, reportID, reportTextFile))
	switch {
	case err == nil:
		exam.ReportText = string(text)
		found = true
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("load report %s: %w", reportID, err)
	}

	if !found {
		return nil, ErrReportNotFound
	}
	return exam, nil
}
