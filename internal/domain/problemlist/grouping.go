package problemlist

import (
	"sort"
	"strings"
)

// evidenceSeparator joins evidence quotes from several observations.
const evidenceSeparator = "\n\n"

// GroupObservations merges a finding's observations into one group per
// source report, most recent exam first. Reports with equal dates keep the
// order in which they were first seen. The input is not modified.
func GroupObservations(observations []Observation) []ObservationGroup {
	if len(observations) == 0 {
		return []ObservationGroup{}
	}

	index := make(map[string]int)
	groups := make([]ObservationGroup, 0, len(observations))
	for _, o := range observations {
		i, ok := index[o.ReportID]
		if !ok {
			i = len(groups)
			index[o.ReportID] = i
			groups = append(groups, ObservationGroup{
				ReportID:        o.ReportID,
				ExamDate:        o.ExamDate,
				ExamTypeDisplay: o.ExamTypeDisplay,
				Presence:        PresenceAbsent,
			})
		}
		g := &groups[i]
		g.Observations = append(g.Observations, o)
		g.Count++
		if o.Presence.IsPresent() {
			g.Presence = PresencePresent
		}
	}

	for i := range groups {
		groups[i].ReportText = joinEvidence(groups[i].Observations)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return newerThan(groups[i].ExamDate, groups[j].ExamDate)
	})
	return groups
}

func evidence(observations []Observation) []string {
	texts := make([]string, 0, len(observations))
	for _, o := range observations {
		if t := o.Text(); t != "" {
			texts = append(texts, t)
		}
	}
	return texts
}

func joinEvidence(observations []Observation) string {
	return strings.Join(evidence(observations), evidenceSeparator)
}
