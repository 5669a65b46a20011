package problemlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/openimagingdata/ipl/internal/platform/cache"
	"github.com/openimagingdata/ipl/internal/platform/reportstore"
)

// RegionTableSource supplies the current authoritative region table and a
// version that changes whenever the table does.
type RegionTableSource interface {
	RegionTable() (RegionTable, uint64)
}

// ExamTypeNamer maps full exam type names to short display names.
type ExamTypeNamer interface {
	ShortName(full string) string
	ExamTypes() map[string]string
}

// Recorder receives classification and cache events.
type Recorder interface {
	FindingClassified(status string)
	RegionFallback()
	CacheResult(hit bool)
}

type Service struct {
	records   RecordRepository
	vocab     Vocabulary
	logger    zerolog.Logger
	cache     cache.Cache
	ttl       time.Duration
	reports   reportstore.Store
	regions   RegionTableSource
	examTypes ExamTypeNamer
	recorder  Recorder
}

func NewService(records RecordRepository, vocab Vocabulary, logger zerolog.Logger) *Service {
	if vocab == "" {
		vocab = VocabularyLongitudinal
	}
	return &Service{records: records, vocab: vocab, logger: logger}
}

// SetCache attaches a cache for enriched problem lists.
func (s *Service) SetCache(c cache.Cache, ttl time.Duration) {
	s.cache = c
	s.ttl = ttl
}

// SetReportStore attaches a store whose report text overrides the text of
// the record source.
func (s *Service) SetReportStore(rs reportstore.Store) { s.reports = rs }

// SetRegionTables attaches the authoritative region table source.
func (s *Service) SetRegionTables(src RegionTableSource) { s.regions = src }

// SetExamTypes attaches the exam type short name mapping.
func (s *Service) SetExamTypes(n ExamTypeNamer) { s.examTypes = n }

// SetRecorder attaches a metrics recorder.
func (s *Service) SetRecorder(r Recorder) { s.recorder = r }

// Vocabulary returns the status vocabulary in effect.
func (s *Service) Vocabulary() Vocabulary { return s.vocab }

// ProblemListItem is an enriched finding with its observations grouped by
// report for display.
type ProblemListItem struct {
	EnrichedFinding
	Groups             []ObservationGroup `json:"groups"`
	MostRecentReportID string             `json:"most_recent_report_id"`
	MostRecentDate     string             `json:"most_recent_date"`
	ObservationCount   int                `json:"observation_count"`
}

// ProblemList is the filtered, sectioned problem list of one patient.
type ProblemList struct {
	Patient          Patient                    `json:"patient"`
	Vocabulary       Vocabulary                 `json:"vocabulary"`
	Filter           Filter                     `json:"filter"`
	Findings         []ProblemListItem          `json:"findings"`
	Sections         []Section[ProblemListItem] `json:"sections"`
	AvailableRegions []string                   `json:"available_regions"`
	Counts           map[Status]int             `json:"counts"`
	Total            int                        `json:"total"`
}

// PatientSummary describes a patient and the shape of their problem list.
type PatientSummary struct {
	Patient      Patient        `json:"patient"`
	FindingCount int            `json:"finding_count"`
	Counts       map[Status]int `json:"counts"`
	ReportIDs    []string       `json:"report_ids"`
}

type enrichedRecord struct {
	Patient  Patient           `json:"patient"`
	Findings []EnrichedFinding `json:"findings"`
}

func (s *Service) ListPatients(ctx context.Context) ([]Patient, error) {
	return s.records.ListPatients(ctx)
}

func (s *Service) GetPatient(ctx context.Context, patientID string) (*PatientSummary, error) {
	rec, err := s.enriched(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return &PatientSummary{
		Patient:      rec.Patient,
		FindingCount: len(rec.Findings),
		Counts:       statusCounts(rec.Findings),
		ReportIDs:    ReportIDs(rec.Findings),
	}, nil
}

func (s *Service) ProblemList(ctx context.Context, patientID string, f Filter) (*ProblemList, error) {
	rec, err := s.enriched(ctx, patientID)
	if err != nil {
		return nil, err
	}

	filtered := f.Apply(rec.Findings)
	items := make([]ProblemListItem, 0, len(filtered))
	for _, ef := range filtered {
		groups := GroupObservations(ef.Observations)
		item := ProblemListItem{
			EnrichedFinding:  ef,
			Groups:           groups,
			ObservationCount: len(ef.Observations),
		}
		if len(groups) > 0 {
			item.MostRecentReportID = groups[0].ReportID
			item.MostRecentDate = groups[0].ExamDate
		}
		items = append(items, item)
	}

	return &ProblemList{
		Patient:          rec.Patient,
		Vocabulary:       s.vocab,
		Filter:           f,
		Findings:         items,
		Sections:         Partition(items, func(it ProblemListItem) Status { return it.Status }, s.vocab),
		AvailableRegions: AvailableRegions(rec.Findings),
		Counts:           statusCounts(rec.Findings),
		Total:            len(rec.Findings),
	}, nil
}

// FindingObservations returns one finding's observations grouped by report.
func (s *Service) FindingObservations(ctx context.Context, patientID, code string) ([]ObservationGroup, error) {
	rec, err := s.enriched(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for _, f := range rec.Findings {
		if f.FindingTypeCode == code {
			return GroupObservations(f.Observations), nil
		}
	}
	return nil, ErrFindingNotFound
}

// ExamView assembles the drill-down of one report. A report unknown to the
// record source yields a view with Unknown metadata and no findings.
func (s *Service) ExamView(ctx context.Context, patientID, reportID string) (*ExamView, error) {
	if !ValidID(reportID) {
		return nil, ErrInvalidID
	}
	rec, err := s.enriched(ctx, patientID)
	if err != nil {
		return nil, err
	}

	var (
		meta ExamMetadata
		text string
	)
	exam, err := s.records.GetExam(ctx, patientID, reportID)
	switch {
	case err == nil:
		meta, text = exam.Metadata, exam.ReportText
	case !errors.Is(err, ErrReportNotFound):
		return nil, err
	}
	if stored, ok := s.storedText(ctx, patientID, reportID); ok {
		text = stored
	}

	view := AssembleExamView(rec.Findings, reportID, text, meta, s.vocab)
	if s.examTypes != nil && view.ExamType != Unknown {
		if short := s.examTypes.ShortName(view.ExamType); short != view.ExamType {
			view.ExamTypeShort = short
		}
	}
	return &view, nil
}

// ReportText returns the raw text of one report.
func (s *Service) ReportText(ctx context.Context, patientID, reportID string) (string, error) {
	if !ValidID(patientID) || !ValidID(reportID) {
		return "", ErrInvalidID
	}
	if text, ok := s.storedText(ctx, patientID, reportID); ok {
		return text, nil
	}
	exam, err := s.records.GetExam(ctx, patientID, reportID)
	if err != nil {
		return "", err
	}
	if exam.ReportText == "" {
		return "", ErrReportNotFound
	}
	return exam.ReportText, nil
}

// ExamTypes returns the exam type short name mapping.
func (s *Service) ExamTypes() map[string]string {
	if s.examTypes == nil {
		return map[string]string{}
	}
	return s.examTypes.ExamTypes()
}

func (s *Service) storedText(ctx context.Context, patientID, reportID string) (string, bool) {
	if s.reports == nil {
		return "", false
	}
	text, err := s.reports.Get(ctx, patientID, reportID)
	if err != nil {
		if !errors.Is(err, reportstore.ErrReportNotFound) {
			s.logger.Warn().Err(err).Str("patient_id", patientID).Str("report_id", reportID).
				Msg("report store lookup failed, using record source text")
		}
		return "", false
	}
	return text, true
}

func (s *Service) regionTable() (RegionTable, uint64) {
	if s.regions == nil {
		return nil, 0
	}
	return s.regions.RegionTable()
}

func (s *Service) cacheKey(patientID string, version uint64) string {
	return cache.Key(string(s.vocab), patientID, strconv.FormatUint(version, 10))
}

func (s *Service) enriched(ctx context.Context, patientID string) (*enrichedRecord, error) {
	if !ValidID(patientID) {
		return nil, ErrInvalidID
	}

	table, version := s.regionTable()
	key := s.cacheKey(patientID, version)
	if s.cache != nil {
		if data, ok := s.cache.Get(ctx, key); ok {
			var rec enrichedRecord
			if err := json.Unmarshal(data, &rec); err == nil {
				s.cacheResult(true)
				return &rec, nil
			}
			s.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
		}
		s.cacheResult(false)
	}

	raw, err := s.records.GetRecord(ctx, patientID)
	if err != nil {
		return nil, err
	}

	agg := NewAggregator(s.vocab, table)
	if s.recorder != nil {
		agg.Observe = func(f EnrichedFinding, src RegionSource) {
			s.recorder.FindingClassified(string(f.Status))
			if src == RegionFromFallback {
				s.recorder.RegionFallback()
			}
		}
	}
	rec := &enrichedRecord{Patient: raw.Patient, Findings: agg.Aggregate(raw.Findings)}

	if s.cache != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode problem list: %w", err)
		}
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("problem list cache write failed")
		}
	}
	return rec, nil
}

func (s *Service) cacheResult(hit bool) {
	if s.recorder != nil {
		s.recorder.CacheResult(hit)
	}
}

func statusCounts(findings []EnrichedFinding) map[Status]int {
	counts := make(map[Status]int)
	for _, f := range findings {
		counts[f.Status]++
	}
	return counts
}
