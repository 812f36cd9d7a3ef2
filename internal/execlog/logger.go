// Package execlog persists worker log output reported with stage callbacks.
package execlog

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"content-pipeline-scheduler/internal/models"
	"content-pipeline-scheduler/internal/telemetry"
)

// Appender stores execution log rows.
type Appender interface {
	AppendExecutionLog(ctx context.Context, entry models.ExecutionLog) (models.ExecutionLog, error)
}

// Archiver moves large log bodies to object storage and returns their URI.
type Archiver interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// truncatedPreview is how many bytes of an archived body stay in the row.
const truncatedPreview = 4096

// Logger appends execution log rows, archiving oversized bodies when an
// Archiver is configured.
type Logger struct {
	store     Appender
	archiver  Archiver
	threshold int
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// New builds a Logger. archiver may be nil; threshold <= 0 disables archiving.
func New(store Appender, archiver Archiver, threshold int, logger *zap.SugaredLogger) *Logger {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Logger{
		store:     store,
		archiver:  archiver,
		threshold: threshold,
		logger:    logger.Named("execlog"),
		now:       time.Now,
	}
}

// Record appends one entry. Store failures are returned; archive failures
// fall back to storing the full body.
func (l *Logger) Record(ctx context.Context, entry models.ExecutionLog) (models.ExecutionLog, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	if l.archiver != nil && l.threshold > 0 && len(entry.Body) > l.threshold {
		key := fmt.Sprintf("executions/%s/%d-%d.log", entry.WorkID, entry.StepNumber, entry.CreatedAt.UnixNano())
		uri, err := l.archiver.Upload(ctx, key, []byte(entry.Body), "text/plain; charset=utf-8")
		if err != nil {
			l.logger.Warnw("archive log body failed, storing inline", "work_id", entry.WorkID, "step", entry.StepNumber, "error", err)
		} else {
			entry.Body = preview(entry.Body, min(l.threshold, truncatedPreview))
			entry.ArchiveURI = &uri
			telemetry.ExecutionLogArchived.Inc()
		}
	}
	return l.store.AppendExecutionLog(ctx, entry)
}

func preview(body string, limit int) string {
	if len(body) <= limit {
		return body
	}
	// Cut on a rune boundary; the body column rejects invalid UTF-8.
	for limit > 0 && !utf8.RuneStart(body[limit]) {
		limit--
	}
	return body[:limit] + "\n... [truncated]"
}
