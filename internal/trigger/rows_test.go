package trigger

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-pipeline-scheduler/internal/models"
)

func TestTriggerRowsCoversBothJobs(t *testing.T) {
	rule := models.RecurrenceRule{
		RepeatType: models.RepeatWeekly,
		DaysOfWeek: []int{1, 3},
		TimesOfDay: []string{"09:00", "10:15"},
	}
	rows, err := TriggerRows("wf1", rule, time.UTC, 30*time.Minute)
	require.NoError(t, err)

	want := []models.TriggerRow{
		{WorkflowID: "wf1", Job: models.JobContentGenerate, Position: 0, Expression: "0 00 09 ? * MON,WED"},
		{WorkflowID: "wf1", Job: models.JobContentGenerate, Position: 1, Expression: "0 15 10 ? * MON,WED"},
		{WorkflowID: "wf1", Job: models.JobBlogUpload, Position: 0, Expression: "0 30 09 ? * MON,WED"},
		{WorkflowID: "wf1", Job: models.JobBlogUpload, Position: 1, Expression: "0 45 10 ? * MON,WED"},
	}
	assert.Equal(t, want, rows)
}

func TestTriggerRowsReadsStartAtInLocation(t *testing.T) {
	seoul := time.FixedZone("KST", 9*3600)
	start := time.Date(2025, 3, 1, 1, 30, 0, 0, time.UTC) // 10:30 in Seoul
	rule := models.RecurrenceRule{RepeatType: models.RepeatOnce, StartAt: &start}

	rows, err := TriggerRows("wf1", rule, seoul, time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "0 30 10 1 3 ? 2025", rows[0].Expression)
	assert.Equal(t, "0 30 11 1 3 ? 2025", rows[1].Expression)

	// The caller's rule is left untouched.
	assert.Equal(t, time.UTC, rule.StartAt.Location())
}

func TestTriggerRowsFailsFast(t *testing.T) {
	_, err := TriggerRows("wf1", models.RecurrenceRule{RepeatType: models.RepeatOnce}, time.UTC, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRecurrence))
}
