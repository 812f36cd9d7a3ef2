package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-pipeline-scheduler/internal/config"
	"content-pipeline-scheduler/internal/logging"
)

func TestRedisQueuePublish(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	q := NewRedisQueueWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	defer q.Close()

	require.NoError(t, q.Publish(ctx, "content.generate", []byte(`{"workId":"a"}`)))
	require.NoError(t, q.Publish(ctx, "content.generate", []byte(`{"workId":"b"}`)))
	require.NoError(t, q.Publish(ctx, "blog.upload", []byte(`{"workId":"c"}`)))

	depth, err := q.Depth(ctx, "content.generate")
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)

	items, err := q.Peek(ctx, "content.generate", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.JSONEq(t, `{"workId":"a"}`, string(items[0]))

	// Workers consume from the head of the list.
	head, err := mr.Lpop("test:ready:content.generate")
	require.NoError(t, err)
	assert.Equal(t, `{"workId":"a"}`, head)

	published, err := q.Published(ctx, "content.generate")
	require.NoError(t, err)
	assert.EqualValues(t, 2, published)

	published, err = q.Published(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, published)
}

func TestMemoryQueueDelivers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q, pubSub := NewMemoryQueue(logging.Nop())
	defer q.Close()

	messages, err := pubSub.Subscribe(ctx, "blog.upload")
	require.NoError(t, err)

	require.NoError(t, q.Publish(ctx, "blog.upload", []byte(`{"workId":"w1"}`)))

	select {
	case msg := <-messages:
		assert.JSONEq(t, `{"workId":"w1"}`, string(msg.Payload))
		assert.Equal(t, "blog.upload", msg.Metadata.Get("queue"))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(config.Config{QueueDriver: "carrier-pigeon"}, logging.Nop())
	require.Error(t, err)

	_, err = New(config.Config{QueueDriver: "kafka"}, logging.Nop())
	require.Error(t, err)
}
