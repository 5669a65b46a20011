package problemlist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type recordRepoHTTP struct {
	client *resty.Client
}

// NewRecordRepoHTTP returns a record source that fetches the viewer data
// layout from a remote base URL.
func NewRecordRepoHTTP(baseURL string, timeout time.Duration) RecordRepository {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &recordRepoHTTP{client: client}
}

// get fetches a path; found is false on 404.
func (r *recordRepoHTTP) get(ctx context.Context, path string) (body []byte, found bool, err error) {
	resp, err := r.client.R().SetContext(ctx).Get("/" + path)
	if err != nil {
		return nil, false, fmt.Errorf("GET %s: %w", path, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, false, nil
	case resp.IsError():
		return nil, false, fmt.Errorf("GET %s: status %d", path, resp.StatusCode())
	}
	return resp.Body(), true, nil
}

func (r *recordRepoHTTP) getJSON(ctx context.Context, path string, v interface{}) (bool, error) {
	body, found, err := r.get(ctx, path)
	if err != nil || !found {
		return found, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func (r *recordRepoHTTP) ListPatients(ctx context.Context) ([]Patient, error) {
	var idx patientsIndex
	if _, err := r.getJSON(ctx, patientsIndexPath, &idx); err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	if idx.Patients == nil {
		idx.Patients = []Patient{}
	}
	return idx.Patients, nil
}

func (r *recordRepoHTTP) GetRecord(ctx context.Context, patientID string) (*Record, error) {
	if !ValidID(patientID) {
		return nil, ErrInvalidID
	}
	var rec Record
	found, err := r.getJSON(ctx, patientPath(patientID, recordFile), &rec)
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", patientID, err)
	}
	if !found {
		return nil, ErrPatientNotFound
	}

	var p Patient
	if ok, err := r.getJSON(ctx, patientPath(patientID, patientFile), &p); err == nil && ok && p.ID != "" {
		rec.Patient = p
	}
	if rec.Patient.ID == "" {
		rec.Patient.ID = patientID
	}
	return &rec, nil
}

func (r *recordRepoHTTP) GetExam(ctx context.Context, patientID, reportID string) (*Exam, error) {
	if !ValidID(patientID) || !ValidID(reportID) {
		return nil, ErrInvalidID
	}
	exam := &Exam{ReportID: reportID}

	var ef examFile
	hasEFL, err := r.getJSON(ctx, examPath(patientID, reportID, examListFile), &ef)
	if err != nil {
		return nil, fmt.Errorf("load exam %s: %w", reportID, err)
	}
	exam.Metadata = ef.ExamInfo

	text, hasText, err := r.get(ctx, examPath(patientID, reportID, reportTextFile))
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", reportID, err)
	}
	exam.ReportText = string(text)

	if !hasEFL && !hasText {
		return nil, ErrReportNotFound
	}
	return exam, nil
}
