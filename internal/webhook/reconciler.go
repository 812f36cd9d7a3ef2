package webhook

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"content-pipeline-scheduler/internal/models"
	"content-pipeline-scheduler/internal/store"
	"content-pipeline-scheduler/internal/telemetry"
)

var (
	// ErrWorkNotFound means the callback names a work item that does not exist.
	ErrWorkNotFound = errors.New("work not found")
	// ErrTerminalWork is returned, when the terminal guard is on, for callbacks
	// on items already PUBLISHED or FAILED.
	ErrTerminalWork = errors.New("work already in a terminal stage")
)

// Notification is the body a worker posts when a stage finishes.
type Notification struct {
	WorkID      string          `json:"workId" validate:"required"`
	Success     *bool           `json:"success" validate:"required"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Message     *string         `json:"message,omitempty"`
	WorkerLogs  string          `json:"workerLogs,omitempty"`
	IsTest      *bool           `json:"isTest,omitempty"`
	Keyword     string          `json:"keyword,omitempty"`
	Product     *models.Product `json:"product,omitempty"`
	Title       string          `json:"title,omitempty"`
	Content     string          `json:"content,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	PostingURL  string          `json:"postingUrl,omitempty" validate:"omitempty,url"`
}

func (n Notification) succeeded() bool {
	return n.Success != nil && *n.Success
}

// Repository loads a work item with its workflow under lock and persists the
// changes fn makes, all in one transaction.
type Repository interface {
	ReconcileWork(ctx context.Context, workID string, fn func(work *models.Work, wf *models.Workflow) error) error
}

// LogRecorder appends worker log output.
type LogRecorder interface {
	Record(ctx context.Context, entry models.ExecutionLog) (models.ExecutionLog, error)
}

// Options tunes a Reconciler.
type Options struct {
	// RejectTerminal refuses callbacks for items already in a terminal stage.
	RejectTerminal bool
	Now            func() time.Time
}

// Reconciler applies stage callbacks to persisted state.
type Reconciler struct {
	repo           Repository
	logs           LogRecorder
	logger         *zap.SugaredLogger
	rejectTerminal bool
	now            func() time.Time
}

// NewReconciler wires a reconciler. logs may be nil to drop worker logs.
func NewReconciler(repo Repository, logs LogRecorder, logger *zap.SugaredLogger, opts Options) *Reconciler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		repo:           repo,
		logs:           logs,
		logger:         logger.Named("webhook"),
		rejectTerminal: opts.RejectTerminal,
		now:            now,
	}
}

// outcome is what the transaction decided, reported after commit.
type outcome struct {
	workflowID    string
	testMode      bool
	testStatus    models.TestStatus
	testChanged   bool
	wasTerminal   bool
	previousStage models.Stage
}

// Handle reconciles one callback of the given kind.
func (r *Reconciler) Handle(ctx context.Context, kind Kind, n Notification) error {
	spec, ok := kinds[kind]
	if !ok {
		return errors.Wrapf(ErrUnknownKind, "%q", kind)
	}
	success := n.succeeded()
	at := ToUTCOrNow(n.CompletedAt, r.now)

	var out outcome
	err := r.repo.ReconcileWork(ctx, n.WorkID, func(work *models.Work, wf *models.Workflow) error {
		out = outcome{workflowID: wf.ID, previousStage: work.Stage}
		if models.IsTerminalStage(work.Stage) {
			out.wasTerminal = true
			if r.rejectTerminal {
				return errors.Wrapf(ErrTerminalWork, "work %s is %s", work.ID, work.Stage)
			}
		}

		out.testMode = wf.Status == models.WorkflowPreRegistered
		if n.IsTest != nil {
			out.testMode = *n.IsTest
		}

		applyTransition(work, spec, n, success, at)

		if out.testMode {
			next := nextTestStatus(wf.TestStatus, success)
			out.testChanged = next != wf.TestStatus
			wf.TestStatus = next
		}
		out.testStatus = wf.TestStatus
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			telemetry.WebhooksReceived.WithLabelValues(string(kind), "not_found").Inc()
			return errors.Wrapf(ErrWorkNotFound, "work %s", n.WorkID)
		case errors.Is(err, ErrTerminalWork):
			telemetry.WebhookTerminalHits.WithLabelValues(string(kind)).Inc()
			telemetry.WebhooksReceived.WithLabelValues(string(kind), "rejected").Inc()
			r.logger.Warnw("callback rejected for terminal work item", "work_id", n.WorkID, "kind", kind)
			return err
		default:
			telemetry.WebhooksReceived.WithLabelValues(string(kind), "error").Inc()
			return errors.Wrapf(err, "reconcile %s callback for work %s", kind, n.WorkID)
		}
	}

	r.report(kind, n, success, out)
	r.recordWorkerLogs(ctx, spec, n, success)
	return nil
}

func (r *Reconciler) report(kind Kind, n Notification, success bool, out outcome) {
	result := "success"
	if !success {
		result = "failure"
	}
	telemetry.WebhooksReceived.WithLabelValues(string(kind), result).Inc()
	r.logger.Infow("stage callback applied",
		"work_id", n.WorkID, "workflow_id", out.workflowID, "kind", kind, "success", success, "test", out.testMode)

	if out.wasTerminal {
		telemetry.WebhookTerminalHits.WithLabelValues(string(kind)).Inc()
		r.logger.Warnw("callback re-applied to terminal work item",
			"work_id", n.WorkID, "kind", kind, "previous_stage", out.previousStage)
	}
	if out.testChanged {
		telemetry.TestStatusTransitions.WithLabelValues(string(out.testStatus)).Inc()
		r.logger.Infow("workflow test status changed",
			"workflow_id", out.workflowID, "test_status", out.testStatus, "kind", kind)
	}
}

// recordWorkerLogs never fails the callback; the transition is already committed.
func (r *Reconciler) recordWorkerLogs(ctx context.Context, spec kindSpec, n Notification, success bool) {
	if r.logs == nil || strings.TrimSpace(n.WorkerLogs) == "" {
		return
	}
	entry := models.ExecutionLog{
		WorkID:     n.WorkID,
		StepNumber: spec.step,
		StepName:   spec.label,
		Body:       n.WorkerLogs,
		Status:     models.StepSuccess,
		Level:      models.LevelInfo,
		CreatedAt:  r.now().UTC(),
	}
	if !success {
		entry.Status = models.StepFailed
		entry.Level = models.LevelError
	}
	if _, err := r.logs.Record(ctx, entry); err != nil {
		telemetry.ExecutionLogFailures.Inc()
		r.logger.Errorw("save worker logs failed", "work_id", n.WorkID, "step", spec.step, "error", err)
		return
	}
	r.logger.Debugw("worker logs saved", "work_id", n.WorkID, "step", spec.step, "bytes", len(n.WorkerLogs))
}

func applyTransition(work *models.Work, spec kindSpec, n Notification, success bool, at time.Time) {
	if n.Message != nil {
		msg := *n.Message
		work.Message = &msg
	}
	if !success {
		work.Stage = models.StageFailed
		work.FailedAt = &at
		return
	}
	work.Stage = spec.stage
	spec.apply(work, n, at)
}

// nextTestStatus implements the sticky failure rule: once TEST_FAILED, only
// an explicit reset clears it.
func nextTestStatus(current models.TestStatus, success bool) models.TestStatus {
	if !success {
		return models.TestFailed
	}
	if current == models.TestFailed {
		return current
	}
	return models.TestPassed
}

// ToUTCOrNow normalizes an externally supplied instant to UTC, defaulting to now.
func ToUTCOrNow(t *time.Time, now func() time.Time) time.Time {
	if t == nil || t.IsZero() {
		if now == nil {
			now = time.Now
		}
		return now().UTC()
	}
	return t.UTC()
}
