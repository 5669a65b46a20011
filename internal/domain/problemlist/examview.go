package problemlist

// AssembleExamView reconstructs the findings of a single exam report from a
// patient's enriched findings. Each scoped finding keeps its full-history
// status. Exam date and type come from meta, else from the first scoped
// observation, else Unknown. An unknown report yields an empty view.
func AssembleExamView(findings []EnrichedFinding, reportID, reportText string, meta ExamMetadata, v Vocabulary) ExamView {
	view := ExamView{
		ReportID:   reportID,
		ReportText: reportText,
		Findings:   []ExamFinding{},
	}

	var first *Observation
	for _, f := range findings {
		var scoped []Observation
		for _, o := range f.Observations {
			if o.ReportID == reportID {
				scoped = append(scoped, o)
			}
		}
		if len(scoped) == 0 {
			continue
		}
		if first == nil {
			first = &scoped[0]
		}
		ev := evidence(scoped)
		view.Findings = append(view.Findings, ExamFinding{
			FindingTypeCode:    f.FindingTypeCode,
			FindingTypeDisplay: f.FindingTypeDisplay,
			Observations:       scoped,
			Count:              len(scoped),
			Evidence:           ev,
			EvidenceText:       joinEvidence(scoped),
			Status:             f.Status,
			StatusLabel:        f.StatusLabel,
			Regions:            f.Regions,
		})
	}

	view.ExamDate = Unknown
	view.ExamType = Unknown
	switch {
	case meta.StudyDateTime != nil && *meta.StudyDateTime != "":
		view.ExamDate = DatePart(*meta.StudyDateTime)
	case first != nil && first.ExamDate != "":
		view.ExamDate = first.ExamDate
	}
	switch {
	case meta.StudyDescription != nil && *meta.StudyDescription != "":
		view.ExamType = *meta.StudyDescription
	case first != nil && first.ExamTypeDisplay != "":
		view.ExamType = first.ExamTypeDisplay
	}

	view.Sections = Partition(view.Findings, func(f ExamFinding) Status { return f.Status }, v)
	return view
}

// ReportIDs lists the distinct report ids referenced by the findings,
// most recent exam first.
func ReportIDs(findings []EnrichedFinding) []string {
	var all []Observation
	for _, f := range findings {
		all = append(all, f.Observations...)
	}
	groups := GroupObservations(all)
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ReportID)
	}
	return ids
}
