// Package report renders analytics reports as spreadsheets.
package report

import (
	"fmt"
	"io"

	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/xuri/excelize/v2"
)

// Sheet names of the analytics workbook.
const (
	SummarySheet   = "Summary"
	QuestionsSheet = "Questions"
	DropoffSheet   = "Drop-off"
)

// WriteAnalyticsWorkbook writes a three-sheet workbook to w.
func WriteAnalyticsWorkbook(w io.Writer, analytics *model.AnalyticsReport, dropoff *model.DropoffReport) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{QuestionsSheet, DropoffSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	summary := [][]interface{}{
		{"Assessment", analytics.AssessmentID},
		{"Title", analytics.Title},
		{"Graded attempts", analytics.TotalAttempts},
		{"Average score", analytics.AverageScore},
		{"Pass rate", analytics.PassRate},
		{"Closed attempts", dropoff.TotalClosed},
	}
	if err := writeRows(f, SummarySheet, summary); err != nil {
		return err
	}

	questions := [][]interface{}{
		{"Question", "Attempts", "Correct %", "Authored difficulty", "Observed difficulty", "Average time (s)"},
	}
	for _, q := range analytics.PerQuestion {
		questions = append(questions, []interface{}{
			q.QuestionID, q.TotalAttempts, q.CorrectPct, string(q.Difficulty), string(q.ObservedDifficulty), q.AverageTimeSeconds,
		})
	}
	if err := writeRows(f, QuestionsSheet, questions); err != nil {
		return err
	}

	points := [][]interface{}{
		{"Position", "Question", "Reached", "Stalled", "Stall rate"},
	}
	for _, p := range dropoff.Points {
		points = append(points, []interface{}{p.QuestionIndex + 1, p.QuestionID, p.Reached, p.Stalled, p.StallRate})
	}
	if err := writeRows(f, DropoffSheet, points); err != nil {
		return err
	}

	if err := f.SetColWidth(QuestionsSheet, "A", "F", 20); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
