package efl

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/openimagingdata/ipl/internal/domain/problemlist"
)

func TestBuildRecord(t *testing.T) {
	res := importSample(t)

	rec, skipped, err := BuildRecord(res.Exams, "John Doe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(skipped) != 0 {
		t.Errorf("expected nothing skipped, got %v", skipped)
	}
	if rec.Patient.ID != "MRN0000001" || rec.Patient.Name != "John Doe" || rec.Patient.DOB != "1961-01-01" {
		t.Errorf("unexpected patient %+v", rec.Patient)
	}
	if len(rec.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(rec.Findings))
	}

	nodule := rec.Findings[0]
	if nodule.ID != "ipl-finding-001" || nodule.FindingTypeCode != "OIFM_1" || nodule.FindingTypeDisplay != "Pulmonary nodule" {
		t.Errorf("unexpected first finding %+v", nodule)
	}
	if len(nodule.Observations) != 3 {
		t.Fatalf("expected 3 nodule observations, got %d", len(nodule.Observations))
	}
	o := nodule.Observations[0]
	if o.ReportID != "r1" || o.ExamDate != "2024-01-15" || o.ExamTypeCode != "24627-2" ||
		o.ExamTypeDisplay != chestCT || o.Presence != problemlist.PresencePresent {
		t.Errorf("unexpected observation %+v", o)
	}
	if o.Text() != "A 4 mm nodule in the right upper lobe." {
		t.Errorf("unexpected text %q", o.Text())
	}
	if nodule.Observations[2].ReportText != nil {
		t.Error("expected no report text for an empty cell")
	}

	emphysema := rec.Findings[1]
	if emphysema.ID != "ipl-finding-002" {
		t.Errorf("unexpected second finding id %s", emphysema.ID)
	}
	var presences []problemlist.Presence
	for _, o := range emphysema.Observations {
		presences = append(presences, o.Presence)
	}
	want := []problemlist.Presence{"absent", "present", "indeterminate"}
	for i := range want {
		if presences[i] != want[i] {
			t.Errorf("expected presences %v, got %v", want, presences)
			break
		}
	}
}

func TestBuildRecord_OrdersObservationsChronologically(t *testing.T) {
	res := importSample(t)
	reversed := []*ExamFindingList{res.Exams[2], res.Exams[1], res.Exams[0]}

	rec, _, err := BuildRecord(reversed, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obs := rec.Findings[0].Observations
	for i := 1; i < len(obs); i++ {
		if obs[i-1].ExamDate > obs[i].ExamDate {
			t.Fatalf("observations out of order: %s before %s", obs[i-1].ExamDate, obs[i].ExamDate)
		}
	}
	// same-date observations keep their input order
	if obs[0].ObservationID != "pulmonary_nodule_1" || obs[1].ObservationID != "pulmonary_nodule_2" {
		t.Errorf("expected stable order within an exam, got %s, %s", obs[0].ObservationID, obs[1].ObservationID)
	}
	if rec.Patient.ID != "MRN0000001" {
		t.Errorf("unexpected patient id %s", rec.Patient.ID)
	}
}

func TestBuildRecord_SkipsFindingsWithoutPresence(t *testing.T) {
	e := &ExamFindingList{
		DiagnosticReportID: "r1",
		PatientInfo:        PatientInfo{PatientIdentifier: "P1"},
		ExamInfo:           ExamInfo{StudyDateTime: "2024-01-01T10:00:00Z", StudyDescription: chestCT},
		Findings: []Finding{
			{ObservationID: "size_1", FindingCode: "OIFM_9", Attributes: []Attribute{{AttributeDescription: "size"}}},
			{ObservationID: "nodule_1", FindingCode: "OIFM_1", Attributes: []Attribute{
				{AttributeDescription: PresenceAttribute, AttributeValueDescription: "present"},
			}},
		},
	}

	rec, skipped, err := BuildRecord([]*ExamFindingList{e}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.Findings) != 1 || rec.Findings[0].FindingTypeCode != "OIFM_1" {
		t.Errorf("expected only the finding with presence, got %+v", rec.Findings)
	}
	if len(skipped) != 1 || skipped[0].ObservationID != "size_1" || !errors.Is(skipped[0].Err, ErrNoPresence) {
		t.Errorf("unexpected skipped %+v", skipped)
	}
}

func TestBuildRecord_Empty(t *testing.T) {
	if _, _, err := BuildRecord(nil, ""); !errors.Is(err, ErrNoExams) {
		t.Errorf("expected ErrNoExams, got %v", err)
	}
}

func TestWriteDirAndReadDir(t *testing.T) {
	res := importSample(t)
	dir := t.TempDir()

	paths, err := WriteDir(dir, res.Exams)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(paths) != 3 || filepath.Base(paths[0]) != "ct_chest_20240115_efl.json" {
		t.Errorf("unexpected paths %v", paths)
	}

	got, err := ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 EFLs, got %d", len(got))
	}
	if got[0].DiagnosticReportID != "r1" || got[2].DiagnosticReportID != "r3" {
		t.Errorf("expected file name order, got %s..%s", got[0].DiagnosticReportID, got[2].DiagnosticReportID)
	}
	if got[0].Findings[0].ReportText != res.Exams[0].Findings[0].ReportText {
		t.Error("report text lost in round trip")
	}

	if _, err := ReadDir(t.TempDir()); !errors.Is(err, ErrNoExams) {
		t.Errorf("expected ErrNoExams for an empty directory, got %v", err)
	}
}

func TestWriteLayout_ReadableByFileSource(t *testing.T) {
	res := importSample(t)
	rec, _, err := BuildRecord(res.Exams, "John Doe")
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	if err := WriteLayout(dir, rec, res.Exams); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// a second write replaces the index entry
	if err := WriteLayout(dir, rec, res.Exams); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	repo := problemlist.NewRecordRepoFile(dir)
	ctx := context.Background()

	patients, err := repo.ListPatients(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(patients) != 1 || patients[0].Name != "John Doe" {
		t.Errorf("unexpected patients %+v", patients)
	}

	loaded, err := repo.GetRecord(ctx, "MRN0000001")
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Findings) != 2 || len(loaded.Findings[0].Observations) != 3 {
		t.Errorf("unexpected loaded record %+v", loaded.Findings)
	}

	exam, err := repo.GetExam(ctx, "MRN0000001", "r2")
	if err != nil {
		t.Fatal(err)
	}
	if exam.Metadata.StudyDateTime == nil || *exam.Metadata.StudyDateTime != "2025-01-01T10:00:00Z" {
		t.Errorf("unexpected exam metadata %+v", exam.Metadata)
	}
}

func TestWriteLayout_RejectsUnsafeID(t *testing.T) {
	rec := &problemlist.Record{Patient: problemlist.Patient{ID: "../escape"}}
	if err := WriteLayout(t.TempDir(), rec, nil); !errors.Is(err, problemlist.ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestExamOf(t *testing.T) {
	e := &ExamFindingList{
		DiagnosticReportID: "r9",
		ExamInfo:           ExamInfo{StudyDateTime: "2025-03-01T10:00:00Z", StudyDescription: "CT Chest"},
		Findings: []Finding{
			{ObservationID: "r9.1", ReportText: "Stable 4 mm nodule."},
			{ObservationID: "r9.2"},
			{ObservationID: "r9.3", ReportText: "No effusion."},
		},
	}
	exam := ExamOf(e)
	if exam.ReportID != "r9" {
		t.Errorf("expected report r9, got %s", exam.ReportID)
	}
	if exam.Metadata.StudyDateTime == nil || *exam.Metadata.StudyDateTime != "2025-03-01T10:00:00Z" {
		t.Errorf("unexpected study date %v", exam.Metadata.StudyDateTime)
	}
	if exam.Metadata.StudyDescription == nil || *exam.Metadata.StudyDescription != "CT Chest" {
		t.Errorf("unexpected description %v", exam.Metadata.StudyDescription)
	}
	if exam.ReportText != "Stable 4 mm nodule.\nNo effusion." {
		t.Errorf("unexpected report text %q", exam.ReportText)
	}

	bare := ExamOf(&ExamFindingList{DiagnosticReportID: "r0"})
	if bare.Metadata.StudyDateTime != nil || bare.Metadata.StudyDescription != nil || bare.ReportText != "" {
		t.Errorf("expected empty metadata, got %+v", bare)
	}
}
