package problemlist

func strPtr(s string) *string { return &s }

func obs(reportID, date string, presence Presence) Observation {
	return Observation{
		ReportID:        reportID,
		ExamDate:        date,
		ExamTypeDisplay: "CT CHEST WITHOUT CONTRAST",
		Presence:        presence,
	}
}

func obsText(reportID, date string, presence Presence, text string) Observation {
	o := obs(reportID, date, presence)
	o.ReportText = strPtr(text)
	return o
}

func nodule() Finding {
	return Finding{
		FindingTypeCode:    "RID50149",
		FindingTypeDisplay: "Pulmonary nodule",
		Observations: []Observation{
			obs("r1", "2024-01-01", PresencePresent),
			obs("r2", "2024-06-01", PresenceAbsent),
		},
	}
}
