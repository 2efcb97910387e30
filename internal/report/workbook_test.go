package report

import (
	"bytes"
	"testing"

	"github.com/stemsi/exstem-attempt-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteAnalyticsWorkbook(t *testing.T) {
	analytics := &model.AnalyticsReport{
		AssessmentID:  "quiz-1",
		Title:         "Quiz",
		TotalAttempts: 4,
		AverageScore:  3.5,
		PassRate:      0.75,
		PerQuestion: []model.QuestionReport{
			{QuestionID: "q1", TotalAttempts: 4, CorrectPct: 75, ObservedDifficulty: model.DifficultyEasy},
		},
	}
	dropoff := &model.DropoffReport{
		AssessmentID: "quiz-1",
		TotalClosed:  5,
		Points:       []model.DropoffPoint{{QuestionIndex: 0, QuestionID: "q1", Reached: 5, Stalled: 1, StallRate: 0.2}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteAnalyticsWorkbook(&buf, analytics, dropoff))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SummarySheet, QuestionsSheet, DropoffSheet}, f.GetSheetList())

	title, err := f.GetCellValue(SummarySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Quiz", title)

	rows, err := f.GetRows(QuestionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "q1", rows[1][0])
	assert.Equal(t, "easy", rows[1][4])

	reached, err := f.GetCellValue(DropoffSheet, "C2")
	require.NoError(t, err)
	assert.Equal(t, "5", reached)
}
