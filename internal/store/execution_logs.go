package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgtype"

	"content-pipeline-scheduler/internal/models"
)

// AppendExecutionLog inserts a worker log row. Rows are never updated.
func (s *Store) AppendExecutionLog(ctx context.Context, entry models.ExecutionLog) (models.ExecutionLog, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO execution_logs (work_id, step_number, step_name, body, status, level, archive_uri, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, entry.WorkID, entry.StepNumber, entry.StepName, entry.Body, entry.Status, entry.Level, entry.ArchiveURI,
		entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return models.ExecutionLog{}, errors.Wrapf(err, "insert execution log for work %s", entry.WorkID)
	}
	return entry, nil
}

// ListExecutionLogs returns a work item's log rows in insertion order.
func (s *Store) ListExecutionLogs(ctx context.Context, workID string) ([]models.ExecutionLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, work_id, step_number, step_name, body, status, level, archive_uri, created_at
		FROM execution_logs WHERE work_id = $1 ORDER BY id
	`, workID)
	if err != nil {
		return nil, errors.Wrap(err, "query execution logs")
	}
	defer rows.Close()

	var out []models.ExecutionLog
	for rows.Next() {
		var e models.ExecutionLog
		var archive pgtype.Text
		if err := rows.Scan(&e.ID, &e.WorkID, &e.StepNumber, &e.StepName, &e.Body, &e.Status, &e.Level, &archive, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan execution log")
		}
		e.ArchiveURI = textPtr(archive)
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate execution logs")
}
