package execlog

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-pipeline-scheduler/internal/models"
)

type memAppender struct {
	rows []models.ExecutionLog
	err  error
}

func (m *memAppender) AppendExecutionLog(_ context.Context, entry models.ExecutionLog) (models.ExecutionLog, error) {
	if m.err != nil {
		return models.ExecutionLog{}, m.err
	}
	entry.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, entry)
	return entry, nil
}

type fakeArchiver struct {
	keys []string
	err  error
}

func (f *fakeArchiver) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "s3://logs/" + key, nil
}

func entry(body string) models.ExecutionLog {
	return models.ExecutionLog{
		WorkID:     "w1",
		StepNumber: 3,
		StepName:   "Content Generate",
		Body:       body,
		Status:     models.StepSuccess,
		Level:      models.LevelInfo,
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRecordStoresSmallBodyInline(t *testing.T) {
	store := &memAppender{}
	archiver := &fakeArchiver{}
	l := New(store, archiver, 16, nil)

	got, err := l.Record(context.Background(), entry("short"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.ID)
	assert.Equal(t, "short", got.Body)
	assert.Nil(t, got.ArchiveURI)
	assert.Empty(t, archiver.keys)
}

func TestRecordArchivesLargeBody(t *testing.T) {
	store := &memAppender{}
	archiver := &fakeArchiver{}
	l := New(store, archiver, 16, nil)

	body := strings.Repeat("x", 100)
	got, err := l.Record(context.Background(), entry(body))
	require.NoError(t, err)

	require.Len(t, archiver.keys, 1)
	assert.Equal(t, "executions/w1/3-1714557600000000000.log", archiver.keys[0])
	require.NotNil(t, got.ArchiveURI)
	assert.Equal(t, "s3://logs/executions/w1/3-1714557600000000000.log", *got.ArchiveURI)
	assert.True(t, strings.HasPrefix(got.Body, strings.Repeat("x", 16)))
	assert.Contains(t, got.Body, "[truncated]")
}

func TestRecordPreviewKeepsMultiByteRunesWhole(t *testing.T) {
	store := &memAppender{}
	l := New(store, &fakeArchiver{}, 64*1024, nil)

	body := "ab" + strings.Repeat("한", 30000)
	got, err := l.Record(context.Background(), entry(body))
	require.NoError(t, err)
	require.NotNil(t, got.ArchiveURI)
	assert.True(t, utf8.ValidString(got.Body))
	assert.True(t, strings.HasPrefix(got.Body, "ab한"))
	assert.True(t, strings.HasSuffix(got.Body, "한\n... [truncated]"))
	assert.LessOrEqual(t, len(strings.TrimSuffix(got.Body, "\n... [truncated]")), truncatedPreview)
}

func TestRecordKeepsFullBodyWhenArchiveFails(t *testing.T) {
	store := &memAppender{}
	l := New(store, &fakeArchiver{err: errors.New("bucket gone")}, 16, nil)

	body := strings.Repeat("y", 100)
	got, err := l.Record(context.Background(), entry(body))
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)
	assert.Nil(t, got.ArchiveURI)
}

func TestRecordWithoutArchiver(t *testing.T) {
	store := &memAppender{}
	l := New(store, nil, 16, nil)

	body := strings.Repeat("z", 100)
	got, err := l.Record(context.Background(), entry(body))
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)
}

func TestRecordReturnsStoreError(t *testing.T) {
	l := New(&memAppender{err: errors.New("db down")}, nil, 0, nil)
	_, err := l.Record(context.Background(), entry("body"))
	require.Error(t, err)
}
