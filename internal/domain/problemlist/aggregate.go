package problemlist

// Aggregator enriches a patient's findings with status and regions.
type Aggregator struct {
	Vocabulary Vocabulary
	Regions    *RegionClassifier

	// Observe, when set, sees every enriched finding and where its regions
	// came from.
	Observe func(f EnrichedFinding, src RegionSource)
}

// NewAggregator returns an aggregator for the given vocabulary and region
// table. A nil table classifies regions by keyword only.
func NewAggregator(v Vocabulary, table RegionTable) *Aggregator {
	if v == "" {
		v = VocabularyLongitudinal
	}
	return &Aggregator{Vocabulary: v, Regions: NewRegionClassifier(table)}
}

// Aggregate returns one enriched finding per input finding, in input order.
// Observations are copied so the result shares no slices with the input.
func (a *Aggregator) Aggregate(findings []Finding) []EnrichedFinding {
	out := make([]EnrichedFinding, 0, len(findings))
	for _, f := range findings {
		out = append(out, a.Enrich(f))
	}
	return out
}

// Enrich classifies a single finding.
func (a *Aggregator) Enrich(f Finding) EnrichedFinding {
	status, label := a.Vocabulary.Classify(f.Observations)
	obs := make([]Observation, len(f.Observations))
	copy(obs, f.Observations)
	f.Observations = obs
	regions, src := a.Regions.Resolve(f.FindingTypeDisplay)
	ef := EnrichedFinding{
		Finding:     f,
		Status:      status,
		StatusLabel: label,
		Regions:     regions,
	}
	if a.Observe != nil {
		a.Observe(ef, src)
	}
	return ef
}
