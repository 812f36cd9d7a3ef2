package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"content-pipeline-scheduler/internal/models"
)

const workColumns = `id, workflow_id, run_key, stage, is_test, keyword, product, title, content, summary, posting_url, message,
	keyword_selected_at, product_selected_at, content_generated_at, published_at, failed_at, created_at, updated_at`

// EnsureRunWork returns the work item of a workflow run, creating it PENDING
// when absent. The boolean reports whether this call created it.
func (s *Store) EnsureRunWork(ctx context.Context, workflowID, runKey string, isTest bool) (models.Work, bool, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO works (id, workflow_id, run_key, stage, is_test, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (workflow_id, run_key) DO NOTHING
		RETURNING `+workColumns, uuid.New().String(), workflowID, runKey, models.StagePending, isTest, now)
	work, err := scanWork(row)
	if err == nil {
		return work, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Work{}, false, errors.Wrapf(err, "insert work for run %s/%s", workflowID, runKey)
	}

	row = s.pool.QueryRow(ctx, `SELECT `+workColumns+` FROM works WHERE workflow_id = $1 AND run_key = $2`, workflowID, runKey)
	work, err = scanWork(row)
	if err != nil {
		return models.Work{}, false, notFound(err, "work run", workflowID+"/"+runKey)
	}
	return work, false, nil
}

// UndispatchedWorks lists items of a workflow sitting in stage that have no
// dispatch record for job yet, oldest first.
func (s *Store) UndispatchedWorks(ctx context.Context, workflowID string, stage models.Stage, job models.Job, limit int) ([]models.Work, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workColumns+`
		FROM works w
		WHERE w.workflow_id = $1 AND w.stage = $2
		  AND NOT EXISTS (SELECT 1 FROM work_dispatches d WHERE d.work_id = w.id AND d.job = $3)
		ORDER BY w.created_at
		LIMIT $4
	`, workflowID, stage, job, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query undispatched works")
	}
	defer rows.Close()

	var out []models.Work
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan work")
		}
		out = append(out, w)
	}
	return out, errors.Wrap(rows.Err(), "iterate works")
}

// RecordDispatch marks a work item as dispatched for job. Repeats are ignored.
func (s *Store) RecordDispatch(ctx context.Context, workID string, job models.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO work_dispatches (work_id, job, dispatched_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (work_id, job) DO NOTHING
	`, workID, job)
	return errors.Wrapf(err, "record dispatch %s/%s", workID, job)
}

// GetWork fetches a work item by id.
func (s *Store) GetWork(ctx context.Context, id string) (models.Work, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workColumns+` FROM works WHERE id = $1`, id)
	w, err := scanWork(row)
	if err != nil {
		return models.Work{}, notFound(err, "work", id)
	}
	return w, nil
}

// ReconcileWork locks a work item and its workflow, hands both to fn, and
// persists whatever fn changed in the same transaction. A non-nil error
// from fn rolls everything back.
func (s *Store) ReconcileWork(ctx context.Context, workID string, fn func(work *models.Work, wf *models.Workflow) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return reconcileWork(ctx, tx, workID, fn)
	})
}

// txRunner is the subset of pgx.Tx used by reconcileWork.
type txRunner interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func reconcileWork(ctx context.Context, tx txRunner, workID string, fn func(work *models.Work, wf *models.Workflow) error) error {
	row := tx.QueryRow(ctx, `SELECT `+workColumns+` FROM works WHERE id = $1 FOR UPDATE`, workID)
	work, err := scanWork(row)
	if err != nil {
		return notFound(err, "work", workID)
	}
	row = tx.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1 FOR UPDATE`, work.WorkflowID)
	wf, err := scanWorkflow(row)
	if err != nil {
		return notFound(err, "workflow", work.WorkflowID)
	}
	testStatusBefore := wf.TestStatus

	if err := fn(&work, &wf); err != nil {
		return err
	}

	product, err := encodeProduct(work.Product)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE works SET
			stage = $2, keyword = $3, product = $4, title = $5, content = $6, summary = $7,
			posting_url = $8, message = $9, keyword_selected_at = $10, product_selected_at = $11,
			content_generated_at = $12, published_at = $13, failed_at = $14, updated_at = NOW()
		WHERE id = $1
	`, work.ID, work.Stage, work.Keyword, product, work.Title, work.Content, work.Summary,
		work.PostingURL, work.Message, work.KeywordSelectedAt, work.ProductSelectedAt,
		work.ContentGeneratedAt, work.PublishedAt, work.FailedAt); err != nil {
		return errors.Wrapf(err, "update work %s", work.ID)
	}

	if wf.TestStatus != testStatusBefore {
		if _, err := tx.Exec(ctx, `
			UPDATE workflows SET test_status = $2, updated_at = NOW() WHERE id = $1
		`, wf.ID, wf.TestStatus); err != nil {
			return errors.Wrapf(err, "update workflow %s test status", wf.ID)
		}
	}
	return nil
}

func encodeProduct(p *models.Product) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "encode product")
	}
	return raw, nil
}

func scanWork(row pgx.Row) (models.Work, error) {
	var w models.Work
	var product []byte
	var message pgtype.Text
	if err := row.Scan(&w.ID, &w.WorkflowID, &w.RunKey, &w.Stage, &w.IsTest, &w.Keyword, &product, &w.Title, &w.Content,
		&w.Summary, &w.PostingURL, &message, &w.KeywordSelectedAt, &w.ProductSelectedAt, &w.ContentGeneratedAt,
		&w.PublishedAt, &w.FailedAt, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return models.Work{}, err
	}
	if len(product) > 0 {
		w.Product = &models.Product{}
		if err := json.Unmarshal(product, w.Product); err != nil {
			return models.Work{}, errors.Wrap(err, "decode product")
		}
	}
	w.Message = textPtr(message)
	return w, nil
}
