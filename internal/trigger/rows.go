package trigger

import (
	"time"

	"github.com/cockroachdb/errors"

	"content-pipeline-scheduler/internal/models"
)

// InLocation returns a copy of rule whose StartAt is expressed in loc, so the
// compiled fields read as wall-clock time of the scheduler.
func InLocation(rule models.RecurrenceRule, loc *time.Location) models.RecurrenceRule {
	if rule.StartAt != nil && loc != nil {
		local := rule.StartAt.In(loc)
		rule.StartAt = &local
	}
	return rule
}

// TriggerRows compiles the rule for every job of a workflow. Blog upload
// triggers fire blogOffset after the content triggers.
func TriggerRows(workflowID string, rule models.RecurrenceRule, loc *time.Location, blogOffset time.Duration) ([]models.TriggerRow, error) {
	rule = InLocation(rule, loc)
	offsets := map[models.Job]time.Duration{
		models.JobContentGenerate: 0,
		models.JobBlogUpload:      blogOffset,
	}

	var rows []models.TriggerRow
	for _, job := range models.Jobs {
		exprs, err := CompileWithOffset(rule, offsets[job])
		if err != nil {
			return nil, errors.Wrapf(err, "compile %s triggers", job)
		}
		for i, e := range exprs {
			rows = append(rows, models.TriggerRow{
				WorkflowID: workflowID,
				Job:        job,
				Position:   i,
				Expression: e.String(),
			})
		}
	}
	return rows, nil
}
