package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// WriteXLSX renders the rollup as a two-sheet workbook: Summary with
// the day's aggregates, Calls with one row per meaningful call.
func WriteXLSX(rep DailyReport, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const summary = "Summary"
	f.SetSheetName("Sheet1", summary)

	kv := [][2]any{
		{"SDR", rep.SDRID},
		{"Date", rep.Date},
		{"Transcripts", rep.Transcripts},
		{"Total calls", rep.TotalCalls},
		{"Meaningful calls", rep.MeaningfulCalls},
		{"Meetings scheduled", rep.MeetingsScheduled},
		{"Avg opener", rep.Averages.Opener},
		{"Avg engagement", rep.Averages.Engagement},
		{"Avg objection handling", rep.Averages.ObjectionHandling},
		{"Avg appointment setting", rep.Averages.AppointmentSetting},
		{"Avg professionalism", rep.Averages.Professionalism},
	}
	row := 1
	for _, pair := range kv {
		f.SetCellValue(summary, fmt.Sprintf("A%d", row), pair[0])
		f.SetCellValue(summary, fmt.Sprintf("B%d", row), pair[1])
		row++
	}
	row++
	f.SetCellValue(summary, fmt.Sprintf("A%d", row), "Calls by type")
	row++
	for _, ct := range []string{"conversation", "voicemail", "hangup", "internal", "reminder"} {
		if n, ok := rep.CallsByType[ct]; ok {
			f.SetCellValue(summary, fmt.Sprintf("A%d", row), ct)
			f.SetCellValue(summary, fmt.Sprintf("B%d", row), n)
			row++
		}
	}
	row++
	f.SetCellValue(summary, fmt.Sprintf("A%d", row), "Grades")
	row++
	for _, grade := range []string{"A+", "A", "B", "C", "D", "F"} {
		if n, ok := rep.GradeCounts[grade]; ok {
			f.SetCellValue(summary, fmt.Sprintf("A%d", row), grade)
			f.SetCellValue(summary, fmt.Sprintf("B%d", row), n)
			row++
		}
	}

	const calls = "Calls"
	if _, err := f.NewSheet(calls); err != nil {
		return fmt.Errorf("report: new sheet: %w", err)
	}
	headers := []string{"#", "Start", "Prospect", "Company", "Grade", "Meeting", "Summary", "Error"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(calls, cell, h)
	}
	for ri, line := range rep.Calls {
		values := []any{
			line.SegmentIndex,
			line.StartTimestamp,
			line.ProspectName,
			line.ProspectCompany,
			line.OverallGrade,
			line.MeetingSet,
			line.Summary,
		}
		if line.GradeError != nil {
			values = append(values, *line.GradeError)
		}
		for ci, v := range values {
			cell, _ := excelize.CoordinatesToCellName(ci+1, ri+2)
			f.SetCellValue(calls, cell, v)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("report: write workbook: %w", err)
	}
	return nil
}
