package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"content-pipeline-scheduler/internal/models"
)

const workflowColumns = `id, name, status, test_status, site_url, trend_category, blog_type, blog_url,
	repeat_type, repeat_interval, days_of_week, days_of_month, times_of_day, start_at, created_at, updated_at`

// CreateWorkflow inserts a workflow together with its compiled trigger rows.
func (s *Store) CreateWorkflow(ctx context.Context, wf models.Workflow, triggers []models.TriggerRow) (models.Workflow, error) {
	if wf.ID == "" {
		wf.ID = uuid.New().String()
	}
	if wf.Status == "" {
		wf.Status = models.WorkflowPreRegistered
	}
	if wf.TestStatus == "" {
		wf.TestStatus = models.TestNotTested
	}
	now := time.Now().UTC()
	wf.CreatedAt, wf.UpdatedAt = now, now

	dow, err := models.EncodeIntList(wf.Recurrence.DaysOfWeek)
	if err != nil {
		return models.Workflow{}, err
	}
	dom, err := models.EncodeIntList(wf.Recurrence.DaysOfMonth)
	if err != nil {
		return models.Workflow{}, err
	}
	var tod []byte
	if wf.Recurrence.TimesOfDay != nil {
		if tod, err = json.Marshal(wf.Recurrence.TimesOfDay); err != nil {
			return models.Workflow{}, errors.Wrap(err, "encode times of day")
		}
	}

	err = s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO workflows (`+workflowColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
		`, wf.ID, wf.Name, wf.Status, wf.TestStatus, wf.SiteURL, wf.TrendCategory, wf.BlogType, wf.BlogURL,
			wf.Recurrence.RepeatType, wf.Recurrence.RepeatInterval, dow, dom, tod, wf.Recurrence.StartAt, now); err != nil {
			return errors.Wrap(err, "insert workflow")
		}
		return insertTriggers(ctx, tx, wf.ID, triggers)
	})
	if err != nil {
		return models.Workflow{}, err
	}
	return wf, nil
}

func insertTriggers(ctx context.Context, tx pgx.Tx, workflowID string, triggers []models.TriggerRow) error {
	batch := &pgx.Batch{}
	for _, t := range triggers {
		batch.Queue(`
			INSERT INTO workflow_triggers (workflow_id, job, position, expression)
			VALUES ($1, $2, $3, $4)
		`, workflowID, t.Job, t.Position, t.Expression)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return errors.Wrap(err, "insert triggers")
	}
	return nil
}

// GetWorkflow fetches a workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id string) (models.Workflow, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	wf, err := scanWorkflow(row)
	if err != nil {
		return models.Workflow{}, notFound(err, "workflow", id)
	}
	return wf, nil
}

// SetWorkflowStatus changes the activation state of a workflow.
func (s *Store) SetWorkflowStatus(ctx context.Context, id string, status models.WorkflowStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return errors.Wrapf(err, "update workflow %s status", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "workflow %s", id)
	}
	return nil
}

// ResetTestStatus clears a sticky test result back to NOT_TESTED.
func (s *Store) ResetTestStatus(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflows SET test_status = $2, updated_at = NOW() WHERE id = $1
	`, id, models.TestNotTested)
	if err != nil {
		return errors.Wrapf(err, "reset workflow %s test status", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(ErrNotFound, "workflow %s", id)
	}
	return nil
}

// ScheduledTriggers returns trigger rows of every workflow that should be firing.
func (s *Store) ScheduledTriggers(ctx context.Context) ([]models.TriggerRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.workflow_id, t.job, t.position, t.expression
		FROM workflow_triggers t
		JOIN workflows w ON w.id = t.workflow_id
		WHERE w.status = ANY($1)
		ORDER BY t.workflow_id, t.job, t.position
	`, []string{string(models.WorkflowPreRegistered), string(models.WorkflowActive)})
	if err != nil {
		return nil, errors.Wrap(err, "query triggers")
	}
	defer rows.Close()

	var out []models.TriggerRow
	for rows.Next() {
		var t models.TriggerRow
		if err := rows.Scan(&t.WorkflowID, &t.Job, &t.Position, &t.Expression); err != nil {
			return nil, errors.Wrap(err, "scan trigger")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "iterate triggers")
}

func scanWorkflow(row pgx.Row) (models.Workflow, error) {
	var wf models.Workflow
	var dow, dom, tod []byte
	if err := row.Scan(&wf.ID, &wf.Name, &wf.Status, &wf.TestStatus, &wf.SiteURL, &wf.TrendCategory, &wf.BlogType, &wf.BlogURL,
		&wf.Recurrence.RepeatType, &wf.Recurrence.RepeatInterval, &dow, &dom, &tod, &wf.Recurrence.StartAt,
		&wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return models.Workflow{}, err
	}
	var err error
	if wf.Recurrence.DaysOfWeek, err = models.DecodeIntList(dow); err != nil {
		return models.Workflow{}, err
	}
	if wf.Recurrence.DaysOfMonth, err = models.DecodeIntList(dom); err != nil {
		return models.Workflow{}, err
	}
	if len(tod) > 0 {
		if err := json.Unmarshal(tod, &wf.Recurrence.TimesOfDay); err != nil {
			return models.Workflow{}, errors.Wrap(err, "decode times of day")
		}
	}
	return wf, nil
}
