package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-pipeline-scheduler/internal/models"
	"content-pipeline-scheduler/internal/store"
)

// memRepo keeps committed copies and discards changes when fn fails.
type memRepo struct {
	works     map[string]models.Work
	workflows map[string]models.Workflow
	failWith  error
}

func newMemRepo(wf models.Workflow, works ...models.Work) *memRepo {
	r := &memRepo{
		works:     map[string]models.Work{},
		workflows: map[string]models.Workflow{wf.ID: wf},
	}
	for _, w := range works {
		r.works[w.ID] = w
	}
	return r
}

func (r *memRepo) ReconcileWork(_ context.Context, workID string, fn func(*models.Work, *models.Workflow) error) error {
	if r.failWith != nil {
		return r.failWith
	}
	work, ok := r.works[workID]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "work %s", workID)
	}
	wf, ok := r.workflows[work.WorkflowID]
	if !ok {
		return errors.Wrapf(store.ErrNotFound, "workflow %s", work.WorkflowID)
	}
	if err := fn(&work, &wf); err != nil {
		return err
	}
	r.works[work.ID] = work
	r.workflows[wf.ID] = wf
	return nil
}

type memLogs struct {
	entries []models.ExecutionLog
	err     error
}

func (m *memLogs) Record(_ context.Context, entry models.ExecutionLog) (models.ExecutionLog, error) {
	if m.err != nil {
		return models.ExecutionLog{}, m.err
	}
	m.entries = append(m.entries, entry)
	return entry, nil
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func boolPtr(b bool) *bool { return &b }

func fixture(status models.WorkflowStatus, testStatus models.TestStatus) (*memRepo, *memLogs, *Reconciler) {
	wf := models.Workflow{ID: "wf1", Status: status, TestStatus: testStatus}
	repo := newMemRepo(wf, models.Work{ID: "w1", WorkflowID: "wf1", Stage: models.StagePending})
	logs := &memLogs{}
	rec := NewReconciler(repo, logs, nil, Options{Now: func() time.Time { return fixedNow }})
	return repo, logs, rec
}

func TestHandleAdvancesStageAndStoresPayload(t *testing.T) {
	repo, _, rec := fixture(models.WorkflowActive, models.TestNotTested)
	ctx := context.Background()

	require.NoError(t, rec.Handle(ctx, KindKeywordSelect, Notification{WorkID: "w1", Success: boolPtr(true), Keyword: "camping chair"}))
	w := repo.works["w1"]
	assert.Equal(t, models.StageKeywordSelected, w.Stage)
	assert.Equal(t, "camping chair", w.Keyword)
	require.NotNil(t, w.KeywordSelectedAt)
	assert.Equal(t, fixedNow, *w.KeywordSelectedAt)

	price := int64(39900)
	product := &models.Product{Code: "P-1", Name: "Chair", Price: &price, URL: "https://shop.example/p/1"}
	require.NoError(t, rec.Handle(ctx, KindProductSelect, Notification{WorkID: "w1", Success: boolPtr(true), Product: product}))
	w = repo.works["w1"]
	assert.Equal(t, models.StageProductSelected, w.Stage)
	require.NotNil(t, w.Product)
	assert.Equal(t, "P-1", w.Product.Code)

	require.NoError(t, rec.Handle(ctx, KindContentGenerate, Notification{
		WorkID: "w1", Success: boolPtr(true), Title: "Best chairs", Content: "<p>body</p>", Summary: "short",
	}))
	w = repo.works["w1"]
	assert.Equal(t, models.StageContentGenerated, w.Stage)
	assert.Equal(t, "Best chairs", w.Title)
	assert.NotNil(t, w.ContentGeneratedAt)

	require.NoError(t, rec.Handle(ctx, KindBlogUpload, Notification{
		WorkID: "w1", Success: boolPtr(true), PostingURL: "https://blog.example/post/1",
	}))
	w = repo.works["w1"]
	assert.Equal(t, models.StagePublished, w.Stage)
	assert.Equal(t, "https://blog.example/post/1", w.PostingURL)
	assert.NotNil(t, w.PublishedAt)

	// Active workflow, no isTest flag: test status untouched.
	assert.Equal(t, models.TestNotTested, repo.workflows["wf1"].TestStatus)
}

func TestHandleFailureMarksFailed(t *testing.T) {
	repo, _, rec := fixture(models.WorkflowActive, models.TestNotTested)
	completed := time.Date(2024, 6, 1, 21, 0, 0, 0, time.FixedZone("KST", 9*3600))
	msg := "model timeout"

	require.NoError(t, rec.Handle(context.Background(), KindContentGenerate, Notification{
		WorkID: "w1", Success: boolPtr(false), CompletedAt: &completed, Message: &msg,
	}))
	w := repo.works["w1"]
	assert.Equal(t, models.StageFailed, w.Stage)
	require.NotNil(t, w.FailedAt)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), *w.FailedAt)
	assert.Equal(t, time.UTC, w.FailedAt.Location())
	require.NotNil(t, w.Message)
	assert.Equal(t, "model timeout", *w.Message)
	assert.Nil(t, w.ContentGeneratedAt)
}

func TestTestStatusIsSticky(t *testing.T) {
	repo, _, rec := fixture(models.WorkflowPreRegistered, models.TestNotTested)
	ctx := context.Background()
	status := func() models.TestStatus { return repo.workflows["wf1"].TestStatus }

	require.NoError(t, rec.Handle(ctx, KindKeywordSelect, Notification{WorkID: "w1", Success: boolPtr(true)}))
	assert.Equal(t, models.TestPassed, status())

	require.NoError(t, rec.Handle(ctx, KindProductSelect, Notification{WorkID: "w1", Success: boolPtr(false)}))
	assert.Equal(t, models.TestFailed, status())

	require.NoError(t, rec.Handle(ctx, KindBlogUpload, Notification{WorkID: "w1", Success: boolPtr(true)}))
	assert.Equal(t, models.TestFailed, status())
}

func TestExplicitIsTestOverridesWorkflowStatus(t *testing.T) {
	repo, _, rec := fixture(models.WorkflowActive, models.TestNotTested)
	require.NoError(t, rec.Handle(context.Background(), KindKeywordSelect, Notification{
		WorkID: "w1", Success: boolPtr(false), IsTest: boolPtr(true),
	}))
	assert.Equal(t, models.TestFailed, repo.workflows["wf1"].TestStatus)

	repo, _, rec = fixture(models.WorkflowPreRegistered, models.TestNotTested)
	require.NoError(t, rec.Handle(context.Background(), KindKeywordSelect, Notification{
		WorkID: "w1", Success: boolPtr(false), IsTest: boolPtr(false),
	}))
	assert.Equal(t, models.TestNotTested, repo.workflows["wf1"].TestStatus)
}

func TestUnknownWorkIsNotFoundAndMutatesNothing(t *testing.T) {
	repo, logs, rec := fixture(models.WorkflowPreRegistered, models.TestNotTested)

	err := rec.Handle(context.Background(), KindKeywordSelect, Notification{
		WorkID: "missing", Success: boolPtr(false), WorkerLogs: "boom",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrWorkNotFound))
	assert.Empty(t, logs.entries)
	assert.Equal(t, models.StagePending, repo.works["w1"].Stage)
	assert.Equal(t, models.TestNotTested, repo.workflows["wf1"].TestStatus)
}

func TestWorkerLogsAreRecorded(t *testing.T) {
	_, logs, rec := fixture(models.WorkflowActive, models.TestNotTested)
	require.NoError(t, rec.Handle(context.Background(), KindBlogUpload, Notification{
		WorkID: "w1", Success: boolPtr(true), WorkerLogs: "uploaded post",
	}))
	require.Len(t, logs.entries, 1)
	e := logs.entries[0]
	assert.Equal(t, 4, e.StepNumber)
	assert.Equal(t, "Blog Upload (Worker)", e.StepName)
	assert.Equal(t, models.StepSuccess, e.Status)
	assert.Equal(t, "uploaded post", e.Body)
}

func TestBlankWorkerLogsAreSkipped(t *testing.T) {
	_, logs, rec := fixture(models.WorkflowActive, models.TestNotTested)
	require.NoError(t, rec.Handle(context.Background(), KindBlogUpload, Notification{
		WorkID: "w1", Success: boolPtr(true), WorkerLogs: "   \n",
	}))
	assert.Empty(t, logs.entries)
}

func TestLogFailureDoesNotAffectTransition(t *testing.T) {
	repo, logs, rec := fixture(models.WorkflowPreRegistered, models.TestNotTested)
	logs.err = errors.New("log table unavailable")

	require.NoError(t, rec.Handle(context.Background(), KindContentGenerate, Notification{
		WorkID: "w1", Success: boolPtr(false), WorkerLogs: "stack trace",
	}))
	assert.Equal(t, models.StageFailed, repo.works["w1"].Stage)
	assert.Equal(t, models.TestFailed, repo.workflows["wf1"].TestStatus)
}

func TestTerminalWorkIsReappliedByDefault(t *testing.T) {
	repo, _, rec := fixture(models.WorkflowActive, models.TestNotTested)
	ctx := context.Background()
	require.NoError(t, rec.Handle(ctx, KindBlogUpload, Notification{WorkID: "w1", Success: boolPtr(false)}))
	require.NoError(t, rec.Handle(ctx, KindBlogUpload, Notification{WorkID: "w1", Success: boolPtr(true)}))
	assert.Equal(t, models.StagePublished, repo.works["w1"].Stage)
}

func TestTerminalGuardRejectsAndKeepsState(t *testing.T) {
	wf := models.Workflow{ID: "wf1", Status: models.WorkflowPreRegistered, TestStatus: models.TestNotTested}
	repo := newMemRepo(wf, models.Work{ID: "w1", WorkflowID: "wf1", Stage: models.StagePublished})
	logs := &memLogs{}
	rec := NewReconciler(repo, logs, nil, Options{RejectTerminal: true, Now: func() time.Time { return fixedNow }})

	err := rec.Handle(context.Background(), KindBlogUpload, Notification{
		WorkID: "w1", Success: boolPtr(false), WorkerLogs: "retry",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTerminalWork))
	assert.Equal(t, models.StagePublished, repo.works["w1"].Stage)
	assert.Equal(t, models.TestNotTested, repo.workflows["wf1"].TestStatus)
	assert.Empty(t, logs.entries)
}

func TestStoreErrorIsWrapped(t *testing.T) {
	repo, _, rec := fixture(models.WorkflowActive, models.TestNotTested)
	repo.failWith = errors.New("connection reset")
	err := rec.Handle(context.Background(), KindKeywordSelect, Notification{WorkID: "w1", Success: boolPtr(true)})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrWorkNotFound))
}

func TestUnknownKind(t *testing.T) {
	_, _, rec := fixture(models.WorkflowActive, models.TestNotTested)
	err := rec.Handle(context.Background(), Kind("translate"), Notification{WorkID: "w1", Success: boolPtr(true)})
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("keyword-select")
	require.NoError(t, err)
	assert.Equal(t, KindKeywordSelect, k)

	k, err = ParseKind("blog_upload")
	require.NoError(t, err)
	assert.Equal(t, KindBlogUpload, k)
	assert.Equal(t, "blog-upload", Path(k))

	_, err = ParseKind("publish")
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestToUTCOrNow(t *testing.T) {
	now := func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("X", -5*3600)) }
	assert.Equal(t, time.Date(2024, 1, 2, 8, 4, 5, 0, time.UTC), ToUTCOrNow(nil, now))

	in := time.Date(2024, 1, 2, 9, 0, 0, 0, time.FixedZone("KST", 9*3600))
	got := ToUTCOrNow(&in, now)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())
}
