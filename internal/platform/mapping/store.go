package mapping

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/openimagingdata/ipl/internal/domain/problemlist"
)

// ReloadObserver is told about every reload attempt.
type ReloadObserver interface {
	MappingReloaded(table string, err error)
}

// Store holds the current tables. Each region table change bumps a version
// so that caches keyed on it never serve a stale classification.
type Store struct {
	regionPath   string
	examTypePath string
	logger       zerolog.Logger
	observer     ReloadObserver

	mu        sync.RWMutex
	regions   problemlist.RegionTable
	examTypes map[string]string
	version   uint64
}

// NewStore loads both tables. An empty path leaves that table empty.
func NewStore(regionPath, examTypePath string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		regionPath:   regionPath,
		examTypePath: examTypePath,
		logger:       logger,
		examTypes:    map[string]string{},
	}
	if err := s.ReloadRegions(); err != nil {
		return nil, err
	}
	if err := s.ReloadExamTypes(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetObserver registers the reload observer.
func (s *Store) SetObserver(o ReloadObserver) { s.observer = o }

func (s *Store) observe(table string, err error) {
	if s.observer != nil {
		s.observer.MappingReloaded(table, err)
	}
}

// ReloadRegions rereads the region table file. On error the previous table
// stays in effect.
func (s *Store) ReloadRegions() error {
	if s.regionPath == "" {
		return nil
	}
	table, err := LoadRegionTable(s.regionPath)
	s.observe(TableRegions, err)
	if err != nil {
		return err
	}
	s.SetRegionTable(table)
	s.logger.Info().Str("file", s.regionPath).Int("entries", len(table)).Msg("region table loaded")
	return nil
}

// ReloadExamTypes rereads the exam type mapping file. On error the previous
// mapping stays in effect.
func (s *Store) ReloadExamTypes() error {
	if s.examTypePath == "" {
		return nil
	}
	m, err := LoadExamTypes(s.examTypePath)
	s.observe(TableExamTypes, err)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.examTypes = m
	s.mu.Unlock()
	s.logger.Info().Str("file", s.examTypePath).Int("entries", len(m)).Msg("exam type mappings loaded")
	return nil
}

// SetRegionTable replaces the region table, e.g. with one derived from
// finding display info.
func (s *Store) SetRegionTable(table problemlist.RegionTable) {
	s.mu.Lock()
	s.regions = table
	s.version++
	s.mu.Unlock()
}

// RegionTable returns the current table and its version. The table must not
// be modified.
func (s *Store) RegionTable() (problemlist.RegionTable, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regions, s.version
}

// ShortName returns the short display name of an exam type, or the full
// name when none is mapped.
func (s *Store) ShortName(full string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if short, ok := s.examTypes[full]; ok && short != "" {
		return short
	}
	return full
}

// ExamTypes returns a copy of the exam type mapping.
func (s *Store) ExamTypes() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.examTypes))
	for k, v := range s.examTypes {
		out[k] = v
	}
	return out
}
