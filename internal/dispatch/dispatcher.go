// Package dispatch turns trigger firings into task messages on the stage queues.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"content-pipeline-scheduler/internal/config"
	"content-pipeline-scheduler/internal/models"
	"content-pipeline-scheduler/internal/queue"
	"content-pipeline-scheduler/internal/telemetry"
)

// ErrUnknownJob is returned for jobs outside the closed set.
var ErrUnknownJob = errors.New("unknown job")

// Store is the persistence the dispatcher needs.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (models.Workflow, error)
	EnsureRunWork(ctx context.Context, workflowID, runKey string, isTest bool) (models.Work, bool, error)
	UndispatchedWorks(ctx context.Context, workflowID string, stage models.Stage, job models.Job, limit int) ([]models.Work, error)
	RecordDispatch(ctx context.Context, workID string, job models.Job) error
}

// Options configures queue names and callback addresses.
type Options struct {
	ContentGenerateQueue string
	BlogUploadQueue      string
	WebhookBaseURL       string
	WebhookSecret        string
	BatchSize            int
}

// OptionsFromConfig maps shared config onto dispatcher options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		ContentGenerateQueue: cfg.ContentGenerateQueue,
		BlogUploadQueue:      cfg.BlogUploadQueue,
		WebhookBaseURL:       cfg.WebhookBaseURL,
		WebhookSecret:        cfg.WebhookSecret,
		BatchSize:            cfg.DispatchBatchSize,
	}
}

type jobSpec struct {
	// eligible is the stage an item must be in to be picked up.
	eligible models.Stage
	// startsRun creates the work item of the firing's run before selecting.
	startsRun bool
	queue     func(o Options) string
	build     func(d *Dispatcher, wf models.Workflow, w models.Work) any
}

var jobs = map[models.Job]jobSpec{
	models.JobContentGenerate: {
		eligible:  models.StagePending,
		startsRun: true,
		queue:     func(o Options) string { return o.ContentGenerateQueue },
		build:     buildContentGenerate,
	},
	models.JobBlogUpload: {
		eligible: models.StageContentGenerated,
		queue:    func(o Options) string { return o.BlogUploadQueue },
		build:    buildBlogUpload,
	},
}

// Dispatcher publishes one task message per eligible work item.
type Dispatcher struct {
	store  Store
	queue  queue.Publisher
	opts   Options
	logger *zap.SugaredLogger
}

// New builds a Dispatcher.
func New(st Store, q queue.Publisher, opts Options, logger *zap.SugaredLogger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Dispatcher{store: st, queue: q, opts: opts, logger: logger.Named("dispatch")}
}

// RunKey identifies the run started by a firing: the fire minute in UTC.
func RunKey(firedAt time.Time) string {
	return firedAt.UTC().Truncate(time.Minute).Format("2006-01-02T15:04Z")
}

// Fire handles one trigger firing of job for a workflow and returns how many
// messages were published. Items that fail to publish stay eligible.
func (d *Dispatcher) Fire(ctx context.Context, workflowID string, job models.Job, firedAt time.Time) (int, error) {
	spec, ok := jobs[job]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownJob, "%q", job)
	}
	wf, err := d.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return 0, errors.Wrapf(err, "load workflow %s", workflowID)
	}
	if !models.IsScheduled(wf.Status) {
		d.logger.Infow("skip firing for unscheduled workflow", "workflow_id", wf.ID, "status", wf.Status, "job", job)
		return 0, nil
	}

	if spec.startsRun {
		runKey := RunKey(firedAt)
		isTest := wf.Status == models.WorkflowPreRegistered
		if _, created, err := d.store.EnsureRunWork(ctx, wf.ID, runKey, isTest); err != nil {
			return 0, errors.Wrapf(err, "start run %s", runKey)
		} else if created {
			d.logger.Infow("work item created", "workflow_id", wf.ID, "run_key", runKey, "test", isTest)
		}
	}

	works, err := d.store.UndispatchedWorks(ctx, wf.ID, spec.eligible, job, d.opts.BatchSize)
	if err != nil {
		return 0, errors.Wrapf(err, "select %s items", job)
	}

	sent := 0
	var firstErr error
	for _, w := range works {
		if err := d.dispatch(ctx, job, spec, wf, w); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	if len(works) > 0 {
		d.logger.Infow("firing dispatched", "workflow_id", wf.ID, "job", job, "eligible", len(works), "sent", sent)
		d.reportDepth(ctx, spec.queue(d.opts))
	}
	return sent, firstErr
}

// reportDepth samples the backlog of queues that can report one.
func (d *Dispatcher) reportDepth(ctx context.Context, queueName string) {
	reader, ok := d.queue.(queue.DepthReader)
	if !ok {
		return
	}
	depth, err := reader.Depth(ctx, queueName)
	if err != nil {
		d.logger.Debugw("queue depth unavailable", "queue", queueName, "error", err)
		return
	}
	telemetry.QueueDepth.WithLabelValues(queueName).Set(float64(depth))
}

// DispatchTestRun starts a manual validation run and sends its first task now.
func (d *Dispatcher) DispatchTestRun(ctx context.Context, workflowID string) (models.Work, error) {
	wf, err := d.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return models.Work{}, errors.Wrapf(err, "load workflow %s", workflowID)
	}
	work, _, err := d.store.EnsureRunWork(ctx, wf.ID, "test-"+uuid.New().String(), true)
	if err != nil {
		return models.Work{}, errors.Wrap(err, "create test run")
	}
	if err := d.dispatch(ctx, models.JobContentGenerate, jobs[models.JobContentGenerate], wf, work); err != nil {
		return work, err
	}
	d.logger.Infow("test run dispatched", "workflow_id", wf.ID, "work_id", work.ID)
	return work, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, job models.Job, spec jobSpec, wf models.Workflow, w models.Work) error {
	body, err := json.Marshal(spec.build(d, wf, w))
	if err != nil {
		return errors.Wrapf(err, "encode %s task", job)
	}
	queueName := spec.queue(d.opts)
	if err := d.queue.Publish(ctx, queueName, body); err != nil {
		telemetry.DispatchFailures.WithLabelValues(string(job)).Inc()
		d.logger.Errorw("publish failed", "work_id", w.ID, "job", job, "queue", queueName, "error", err)
		return errors.Wrapf(err, "publish %s task for work %s", job, w.ID)
	}
	telemetry.TasksDispatched.WithLabelValues(string(job)).Inc()

	// Published but unrecorded items are sent again on the next firing.
	if err := d.store.RecordDispatch(ctx, w.ID, job); err != nil {
		telemetry.DispatchFailures.WithLabelValues(string(job)).Inc()
		d.logger.Warnw("dispatch record failed", "work_id", w.ID, "job", job, "error", err)
		return errors.Wrapf(err, "record %s dispatch for work %s", job, w.ID)
	}
	return nil
}
