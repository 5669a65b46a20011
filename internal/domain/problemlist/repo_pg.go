package problemlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type recordRepoPG struct{ pool *pgxpool.Pool }

// RecordRepoPG is a Postgres record source that also accepts writes.
type RecordRepoPG interface {
	RecordRepository
	RecordWriter
	SaveExam(ctx context.Context, patientID string, exam *Exam) error
}

func NewRecordRepoPG(pool *pgxpool.Pool) RecordRepoPG {
	return &recordRepoPG{pool: pool}
}

func (r *recordRepoPG) conn() queryable { return r.pool }

func (r *recordRepoPG) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := r.conn().Query(ctx, `SELECT id, COALESCE(name, ''), COALESCE(dob, '') FROM patient ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	patients := []Patient{}
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.DOB); err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

const obsCols = `finding_seq, report_id, COALESCE(observation_id, ''), exam_date,
	COALESCE(exam_type_code, ''), exam_type_display, presence, report_text`

// seqObservation is an observation tagged with the finding_seq it belongs to.
type seqObservation struct {
	seq int
	obs Observation
}

// assembleFindings attaches observations to findings by sequence number.
// findings must be ordered by seq; observations whose seq has no finding
// are dropped.
func assembleFindings(seqs []int, findings []Finding, obs []seqObservation) []Finding {
	at := make(map[int]int, len(seqs))
	for i, seq := range seqs {
		at[seq] = i
	}
	for _, o := range obs {
		if i, ok := at[o.seq]; ok {
			findings[i].Observations = append(findings[i].Observations, o.obs)
		}
	}
	return findings
}

func (r *recordRepoPG) GetRecord(ctx context.Context, patientID string) (*Record, error) {
	rec := &Record{}
	err := r.conn().QueryRow(ctx,
		`SELECT id, COALESCE(name, ''), COALESCE(dob, '') FROM patient WHERE id = $1`, patientID).
		Scan(&rec.Patient.ID, &rec.Patient.Name, &rec.Patient.DOB)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load patient %s: %w", patientID, err)
	}

	seqs, findings, err := r.loadFindings(ctx, patientID)
	if err != nil {
		return nil, err
	}
	obs, err := r.loadObservations(ctx, patientID)
	if err != nil {
		return nil, err
	}
	rec.Findings = assembleFindings(seqs, findings, obs)
	return rec, nil
}

func (r *recordRepoPG) loadFindings(ctx context.Context, patientID string) ([]int, []Finding, error) {
	rows, err := r.conn().Query(ctx, `SELECT finding_seq, COALESCE(finding_id, ''), finding_type_code,
		finding_type_display FROM finding WHERE patient_id = $1 ORDER BY finding_seq`, patientID)
	if err != nil {
		return nil, nil, fmt.Errorf("load findings %s: %w", patientID, err)
	}
	defer rows.Close()

	var seqs []int
	findings := []Finding{}
	for rows.Next() {
		var (
			seq int
			f   Finding
		)
		if err := rows.Scan(&seq, &f.ID, &f.FindingTypeCode, &f.FindingTypeDisplay); err != nil {
			return nil, nil, err
		}
		f.Observations = []Observation{}
		seqs = append(seqs, seq)
		findings = append(findings, f)
	}
	return seqs, findings, rows.Err()
}

func (r *recordRepoPG) loadObservations(ctx context.Context, patientID string) ([]seqObservation, error) {
	rows, err := r.conn().Query(ctx, `SELECT `+obsCols+` FROM finding_observation
		WHERE patient_id = $1 ORDER BY finding_seq, obs_seq`, patientID)
	if err != nil {
		return nil, fmt.Errorf("load observations %s: %w", patientID, err)
	}
	defer rows.Close()

	var out []seqObservation
	for rows.Next() {
		var (
			so       seqObservation
			presence string
		)
		o := &so.obs
		if err := rows.Scan(&so.seq, &o.ReportID, &o.ObservationID, &o.ExamDate, &o.ExamTypeCode,
			&o.ExamTypeDisplay, &presence, &o.ReportText); err != nil {
			return nil, err
		}
		o.Presence = Presence(presence)
		out = append(out, so)
	}
	return out, rows.Err()
}

func (r *recordRepoPG) GetExam(ctx context.Context, patientID, reportID string) (*Exam, error) {
	exam := &Exam{ReportID: reportID}
	err := r.conn().QueryRow(ctx, `SELECT study_datetime, study_description, report_text
		FROM diagnostic_report WHERE patient_id = $1 AND id = $2`, patientID, reportID).
		Scan(&exam.Metadata.StudyDateTime, &exam.Metadata.StudyDescription, &exam.ReportText)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load report %s: %w", reportID, err)
	}
	return exam, nil
}

// SaveRecord replaces the patient's findings and observations with the
// record's, in one transaction.
func (r *recordRepoPG) SaveRecord(ctx context.Context, rec *Record) error {
	if rec.Patient.ID == "" {
		return fmt.Errorf("patient id is required")
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO patient (id, name, dob) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, dob = EXCLUDED.dob, updated_at = NOW()`,
		rec.Patient.ID, rec.Patient.Name, rec.Patient.DOB); err != nil {
		return fmt.Errorf("upsert patient: %w", err)
	}
	for _, table := range []string{"finding_observation", "finding"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE patient_id = $1`, rec.Patient.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	findingRows := make([][]interface{}, 0, len(rec.Findings))
	for fi, f := range rec.Findings {
		findingRows = append(findingRows, []interface{}{
			rec.Patient.ID, fi, f.ID, f.FindingTypeCode, f.FindingTypeDisplay,
		})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"finding"}, []string{
		"patient_id", "finding_seq", "finding_id", "finding_type_code", "finding_type_display",
	}, pgx.CopyFromRows(findingRows)); err != nil {
		return fmt.Errorf("copy findings: %w", err)
	}

	var rows [][]interface{}
	for fi, f := range rec.Findings {
		for oi, o := range f.Observations {
			rows = append(rows, []interface{}{
				rec.Patient.ID, f.ID, f.FindingTypeCode, f.FindingTypeDisplay, fi, oi,
				o.ReportID, o.ObservationID, o.ExamDate, o.ExamTypeCode, o.ExamTypeDisplay,
				string(o.Presence), o.ReportText,
			})
		}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"finding_observation"}, []string{
		"patient_id", "finding_id", "finding_type_code", "finding_type_display", "finding_seq", "obs_seq",
		"report_id", "observation_id", "exam_date", "exam_type_code", "exam_type_display",
		"presence", "report_text",
	}, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy observations: %w", err)
	}
	return tx.Commit(ctx)
}

// SaveExam upserts an exam's metadata and report text.
func (r *recordRepoPG) SaveExam(ctx context.Context, patientID string, exam *Exam) error {
	_, err := r.conn().Exec(ctx, `
		INSERT INTO diagnostic_report (id, patient_id, study_datetime, study_description, report_text)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient_id, id) DO UPDATE SET study_datetime = EXCLUDED.study_datetime,
			study_description = EXCLUDED.study_description, report_text = EXCLUDED.report_text`,
		exam.ReportID, patientID, exam.Metadata.StudyDateTime, exam.Metadata.StudyDescription, exam.ReportText)
	if err != nil {
		return fmt.Errorf("save report %s: %w", exam.ReportID, err)
	}
	return nil
}
