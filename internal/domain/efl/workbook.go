package efl

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

// Workbook column headers.
const (
	ColExamDate    = "Exam Date"
	ColExamType    = "Exam Type"
	ColExamCode    = "Exam Code"
	ColFinding     = "Finding"
	ColFindingName = "OIDM Finding Model Name"
	ColFindingCode = "OIDM FMID"
	ColPresenceID  = "Presence OIFMA_ID"
	ColPresence    = "Present/Absent"
	ColText        = "Text"
)

var requiredColumns = []string{
	ColExamDate, ColExamType, ColExamCode, ColFinding, ColFindingName,
	ColFindingCode, ColPresenceID, ColPresence, ColText,
}

// ImportOptions controls workbook import. A zero YearOffset leaves exam
// dates unchanged.
type ImportOptions struct {
	PatientMRN string
	PatientDOB string
	YearOffset int
	// NewID generates report identifiers. Defaults to random UUIDs.
	NewID func() string
}

// DefaultImportOptions returns the options used by the import command.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{
		PatientMRN: "MRN0000001",
		PatientDOB: "1961-01-01",
		YearOffset: 15,
	}
}

// RowWarning describes a workbook row that was skipped or coerced.
type RowWarning struct {
	Row     int
	Message string
}

func (w RowWarning) String() string { return fmt.Sprintf("row %d: %s", w.Row, w.Message) }

// ImportResult is the outcome of a workbook import. Exams are ordered by
// exam date, then exam type and code.
type ImportResult struct {
	Exams    []*ExamFindingList
	Warnings []RowWarning
}

type examKey struct {
	date     time.Time
	examType string
	examCode string
}

type findingRow struct {
	row        int
	slug       string
	name       string
	code       string
	presenceID string
	presence   string
	text       string
}

// ImportWorkbook reads findings from the active sheet of an .xlsx workbook
// and builds one EFL per exam. Rows are grouped into exams by date, type
// and code.
func ImportWorkbook(r io.Reader, opts ImportOptions) (*ImportResult, error) {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		if list := f.GetSheetList(); len(list) > 0 {
			sheet = list[0]
		}
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %q is empty", ErrMissingColumn, sheet)
	}

	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		cols[strings.TrimSpace(h)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingColumn, name)
		}
	}

	res := &ImportResult{}
	exams := make(map[examKey][]findingRow)
	for i, row := range rows[1:] {
		rowNum := i + 2
		cell := func(name string) string {
			idx := cols[name]
			if idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		fr := findingRow{
			slug:       cell(ColFinding),
			name:       cell(ColFindingName),
			code:       cell(ColFindingCode),
			presenceID: cell(ColPresenceID),
			presence:   cell(ColPresence),
			text:       cell(ColText),
			row:        rowNum,
		}
		rawDate, examType, examCode := cell(ColExamDate), cell(ColExamType), cell(ColExamCode)
		if rawDate == "" || examType == "" || examCode == "" || fr.slug == "" ||
			fr.code == "" || fr.presenceID == "" || fr.presence == "" {
			res.Warnings = append(res.Warnings, RowWarning{Row: rowNum, Message: "missing required data, skipped"})
			continue
		}
		date, err := parseCellDate(rawDate)
		if err != nil {
			res.Warnings = append(res.Warnings, RowWarning{Row: rowNum, Message: err.Error() + ", skipped"})
			continue
		}

		k := examKey{date: date, examType: examType, examCode: examCode}
		exams[k] = append(exams[k], fr)
	}

	keys := make([]examKey, 0, len(exams))
	for k := range exams {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if !a.date.Equal(b.date) {
			return a.date.Before(b.date)
		}
		if a.examType != b.examType {
			return a.examType < b.examType
		}
		return a.examCode < b.examCode
	})

	for _, k := range keys {
		e, warnings := buildExam(k, exams[k], opts)
		res.Exams = append(res.Exams, e)
		res.Warnings = append(res.Warnings, warnings...)
	}
	return res, nil
}

func buildExam(k examKey, rows []findingRow, opts ImportOptions) (*ExamFindingList, []RowWarning) {
	d := k.date
	shifted := time.Date(d.Year()+opts.YearOffset, d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)

	e := &ExamFindingList{
		Schema:             SchemaURL,
		DiagnosticReportID: opts.NewID(),
		PatientInfo: PatientInfo{
			PatientIdentifier: opts.PatientMRN,
			PatientDOB:        opts.PatientDOB,
		},
		ExamInfo: ExamInfo{
			StudyIdentifier:  StudyIdentifier(k.examType, shifted),
			StudyDateTime:    shifted.Format("2006-01-02") + "T10:00:00Z",
			StudyLoincCode:   k.examCode,
			StudyDescription: k.examType,
		},
		Findings: make([]Finding, 0, len(rows)),
	}

	var warnings []RowWarning
	counts := make(map[string]int)
	for _, r := range rows {
		var (
			suffix, desc string
			n            int
		)
		switch strings.ToLower(r.presence) {
		case "present":
			suffix, desc = ".1", "present"
			counts[r.slug]++
			n = counts[r.slug]
		case "absent":
			suffix, desc, n = ".0", "absent", 0
		case "indeterminate", "uncertain":
			suffix, desc, n = ".2", "indeterminate", 2
		default:
			warnings = append(warnings, RowWarning{
				Row:     r.row,
				Message: fmt.Sprintf("unknown presence %q for %s, using indeterminate", r.presence, r.code),
			})
			suffix, desc, n = ".2", "indeterminate", 2
		}

		e.Findings = append(e.Findings, Finding{
			ObservationID:      r.slug + "_" + strconv.Itoa(n),
			FindingCode:        r.code,
			FindingDescription: r.name,
			Attributes: []Attribute{{
				AttributeCode:             r.presenceID,
				AttributeDescription:      PresenceAttribute,
				AttributeValueCode:        r.presenceID + suffix,
				AttributeValueDescription: desc,
			}},
			ReportText: r.text,
		})
	}
	return e, warnings
}

// StudyIdentifier builds a study id from the first two words of the exam
// type, upper-cased, and the study date: "CT Chest w/o" on 2024-01-15
// gives CT_CHEST_20240115.
func StudyIdentifier(examType string, date time.Time) string {
	words := strings.Fields(examType)
	if len(words) > 2 {
		words = words[:2]
	}
	for i, w := range words {
		words[i] = strings.ToUpper(w)
	}
	return strings.Join(append(words, date.Format("20060102")), "_")
}

var cellDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
}

// parseCellDate accepts ISO and US date strings and Excel date serials.
func parseCellDate(v string) (time.Time, error) {
	for _, layout := range cellDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return dateOnly(t), nil
		}
	}
	serial, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised exam date %q", v)
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid exam date serial %q: %w", v, err)
	}
	return dateOnly(t), nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
