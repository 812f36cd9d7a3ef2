// Package scheduler registers compiled trigger expressions in a cron runtime
// and fires the dispatcher when they come due.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"content-pipeline-scheduler/internal/models"
	"content-pipeline-scheduler/internal/telemetry"
	"content-pipeline-scheduler/internal/trigger"
)

// Firer handles a due trigger.
type Firer interface {
	Fire(ctx context.Context, workflowID string, job models.Job, firedAt time.Time) (int, error)
}

// TriggerSource lists the trigger rows that should be registered.
type TriggerSource interface {
	ScheduledTriggers(ctx context.Context) ([]models.TriggerRow, error)
}

type registration struct {
	id   cron.EntryID
	year int
}

// Runtime owns the cron instance. Firings of the same workflow job never
// overlap; distinct workflow jobs fire in parallel.
type Runtime struct {
	cron   *cron.Cron
	firer  Firer
	loc    *time.Location
	logger *zap.SugaredLogger
	now    func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]registration
	locks   map[string]*sync.Mutex
	// retired holds year-bearing entries that already fired or expired, so
	// later syncs do not register them again.
	retired map[string]bool
}

// New builds a stopped runtime evaluating expressions in loc.
func New(firer Firer, loc *time.Location, logger *zap.SugaredLogger) *Runtime {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.Named("scheduler")
	return &Runtime{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{logger: logger})),
		),
		firer:   firer,
		loc:     loc,
		logger:  logger,
		now:     time.Now,
		ctx:     context.Background(),
		entries: map[string]registration{},
		locks:   map[string]*sync.Mutex{},
		retired: map[string]bool{},
	}
}

// Start begins firing; ctx is handed to every firing.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
	r.cron.Start()
	r.logger.Infow("cron started", "tz", r.loc.String())
}

// Stop halts the cron and waits for running firings until ctx expires.
func (r *Runtime) Stop(ctx context.Context) {
	select {
	case <-r.cron.Stop().Done():
	case <-ctx.Done():
		r.logger.Warnw("stop timed out with firings still running")
	}
}

// Sync makes the registrations match the persisted trigger rows.
func (r *Runtime) Sync(ctx context.Context, src TriggerSource) error {
	rows, err := src.ScheduledTriggers(ctx)
	if err != nil {
		return errors.Wrap(err, "load scheduled triggers")
	}
	currentYear := r.now().In(r.loc).Year()

	desired := make(map[string]models.TriggerRow, len(rows))
	for _, row := range rows {
		desired[entryKey(row)] = row
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, reg := range r.entries {
		if _, ok := desired[key]; !ok {
			r.cron.Remove(reg.id)
			delete(r.entries, key)
			removed++
		}
	}
	for key := range r.retired {
		if _, ok := desired[key]; !ok {
			delete(r.retired, key)
		}
	}

	added := 0
	for key, row := range desired {
		if _, ok := r.entries[key]; ok || r.retired[key] {
			continue
		}
		expr, err := trigger.ParseExpression(row.Expression)
		if err != nil {
			r.logger.Errorw("skip invalid trigger", "workflow_id", row.WorkflowID, "job", row.Job, "expression", row.Expression, "error", err)
			continue
		}
		year, err := parseYear(expr.Year)
		if err != nil {
			r.logger.Errorw("skip trigger with unsupported year", "workflow_id", row.WorkflowID, "expression", row.Expression, "error", err)
			continue
		}
		if year != 0 && year < currentYear {
			continue
		}
		id, err := r.cron.AddFunc(expr.CronSpec(), r.fireFunc(key, row, year, r.lockForLocked(row.WorkflowID, row.Job)))
		if err != nil {
			r.logger.Errorw("register trigger failed", "workflow_id", row.WorkflowID, "expression", row.Expression, "error", err)
			continue
		}
		r.entries[key] = registration{id: id, year: year}
		added++
	}

	telemetry.TriggersRegistered.Set(float64(len(r.entries)))
	if added > 0 || removed > 0 {
		r.logger.Infow("triggers synced", "added", added, "removed", removed, "total", len(r.entries))
	}
	return nil
}

// Run syncs immediately and then every interval until ctx is done, backing
// off after failed syncs.
func (r *Runtime) Run(ctx context.Context, src TriggerSource, interval, backoffInitial, backoffMax time.Duration) error {
	failures := 0
	for {
		wait := interval
		if err := r.Sync(ctx, src); err != nil {
			failures++
			wait = backoffWithJitter(backoffInitial, backoffMax, failures)
			r.logger.Warnw("trigger sync failed", "attempt", failures, "retry_in", wait, "error", err)
		} else {
			failures = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Registered returns how many expressions are registered.
func (r *Runtime) Registered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Runtime) fireFunc(key string, row models.TriggerRow, year int, lock *sync.Mutex) func() {
	return func() {
		firedAt := r.now().In(r.loc)
		if year != 0 && firedAt.Year() != year {
			if firedAt.Year() > year {
				r.retire(key)
			}
			return
		}
		if !lock.TryLock() {
			telemetry.TriggerFires.WithLabelValues(string(row.Job), "overlap").Inc()
			r.logger.Infow("previous firing still running, skipped", "workflow_id", row.WorkflowID, "job", row.Job)
			return
		}
		defer lock.Unlock()

		r.mu.Lock()
		ctx := r.ctx
		r.mu.Unlock()

		sent, err := r.firer.Fire(ctx, row.WorkflowID, row.Job, firedAt)
		if err != nil {
			telemetry.TriggerFires.WithLabelValues(string(row.Job), "error").Inc()
			r.logger.Errorw("firing failed", "workflow_id", row.WorkflowID, "job", row.Job, "sent", sent, "error", err)
		} else {
			telemetry.TriggerFires.WithLabelValues(string(row.Job), "ok").Inc()
		}
		if year != 0 {
			r.retire(key)
		}
	}
}

// retire removes a year-bearing entry for good.
func (r *Runtime) retire(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retired[key] = true
	if reg, ok := r.entries[key]; ok {
		r.cron.Remove(reg.id)
		delete(r.entries, key)
		telemetry.TriggersRegistered.Set(float64(len(r.entries)))
	}
}

// lockForLocked returns the mutex shared by all expressions of a workflow
// job. r.mu must be held.
func (r *Runtime) lockForLocked(workflowID string, job models.Job) *sync.Mutex {
	key := workflowID + "|" + string(job)
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

func entryKey(row models.TriggerRow) string {
	return fmt.Sprintf("%s|%s|%d|%s", row.WorkflowID, row.Job, row.Position, row.Expression)
}

func parseYear(field string) (int, error) {
	if field == "" || field == "*" {
		return 0, nil
	}
	year, err := strconv.Atoi(field)
	if err != nil {
		return 0, errors.Wrapf(err, "year field %q", field)
	}
	return year, nil
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
