// Package report builds the daily coaching rollup for one SDR and
// date: counts by call type, grade distribution, per-dimension
// averages, and the graded call detail list.
package report

import (
	"fmt"

	"call-coach-go/internal/store"
	"call-coach-go/internal/types"
)

// DimensionAverages are the mean rubric scores across graded calls.
type DimensionAverages struct {
	Opener             float64 `json:"opener"`
	Engagement         float64 `json:"engagement"`
	ObjectionHandling  float64 `json:"objection_handling"`
	AppointmentSetting float64 `json:"appointment_setting"`
	Professionalism    float64 `json:"professionalism"`
}

// CallLine is one graded call in the detail list.
type CallLine struct {
	CallID          string  `json:"call_id"`
	SegmentIndex    int     `json:"segment_index"`
	StartTimestamp  string  `json:"start_timestamp,omitempty"`
	CallType        string  `json:"call_type"`
	ProspectName    string  `json:"prospect_name,omitempty"`
	ProspectCompany string  `json:"prospect_company,omitempty"`
	OverallGrade    string  `json:"overall_grade,omitempty"`
	MeetingSet      bool    `json:"meeting_scheduled"`
	Summary         string  `json:"summary,omitempty"`
	GradeError      *string `json:"grade_error,omitempty"`
}

// DailyReport is the rollup for one SDR and date.
type DailyReport struct {
	SDRID             string            `json:"sdr_id"`
	Date              string            `json:"date"`
	Transcripts       int               `json:"transcripts"`
	TotalCalls        int               `json:"total_calls"`
	MeaningfulCalls   int               `json:"meaningful_calls"`
	MeetingsScheduled int               `json:"meetings_scheduled"`
	CallsByType       map[string]int    `json:"calls_by_type"`
	GradeCounts       map[string]int    `json:"grade_counts"`
	Averages          DimensionAverages `json:"dimension_averages"`
	Calls             []CallLine        `json:"calls"`
}

// Build assembles the rollup from the store.
func Build(st *store.Store, sdrID, date string) (DailyReport, error) {
	rep := DailyReport{
		SDRID:       sdrID,
		Date:        date,
		CallsByType: map[string]int{},
		GradeCounts: map[string]int{},
	}

	transcripts, err := st.ListTranscripts(store.TranscriptFilter{
		SDRID:    sdrID,
		DateFrom: date,
		DateTo:   date,
	})
	if err != nil {
		return rep, fmt.Errorf("report: %w", err)
	}
	rep.Transcripts = len(transcripts)

	var sums [5]int
	graded := 0

	for _, t := range transcripts {
		calls, err := st.ListCalls(store.CallFilter{TranscriptID: t.ID})
		if err != nil {
			return rep, fmt.Errorf("report: %w", err)
		}
		for _, c := range calls {
			rep.TotalCalls++
			if c.CallType != "" {
				rep.CallsByType[string(c.CallType)]++
			}
			if !c.IsMeaningful {
				continue
			}
			rep.MeaningfulCalls++

			line := CallLine{
				CallID:         c.ID,
				SegmentIndex:   c.SegmentIndex,
				StartTimestamp: c.StartTimestamp,
				CallType:       string(c.CallType),
				GradeError:     c.GradeError,
			}
			if c.ProspectName != nil {
				line.ProspectName = *c.ProspectName
			}
			if c.ProspectCompany != nil {
				line.ProspectCompany = *c.ProspectCompany
			}
			if g := c.Grade; g != nil {
				graded++
				rep.GradeCounts[g.OverallGrade]++
				line.OverallGrade = g.OverallGrade
				line.Summary = g.CallSummary
				if g.MeetingScheduled == types.MeetingYes {
					rep.MeetingsScheduled++
					line.MeetingSet = true
				}
				for i, s := range g.DimensionScores() {
					sums[i] += s
				}
			}
			rep.Calls = append(rep.Calls, line)
		}
	}

	if graded > 0 {
		n := float64(graded)
		rep.Averages = DimensionAverages{
			Opener:             float64(sums[0]) / n,
			Engagement:         float64(sums[1]) / n,
			ObjectionHandling:  float64(sums[2]) / n,
			AppointmentSetting: float64(sums[3]) / n,
			Professionalism:    float64(sums[4]) / n,
		}
	}
	return rep, nil
}
