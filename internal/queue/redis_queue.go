package queue

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"content-pipeline-scheduler/internal/config"
)

// RedisQueue publishes stage task messages onto Redis lists consumed by the
// external workers (LPOP/BLPOP on "<prefix>ready:<queue>").
type RedisQueue struct {
	client   *redis.Client
	prefix   string
	statsKey string
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg.QueuePrefix)
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "queue:"
	}
	return &RedisQueue{
		client:   client,
		prefix:   prefix,
		statsKey: prefix + "published",
	}
}

func (q *RedisQueue) readyKey(queue string) string {
	return q.prefix + "ready:" + queue
}

// Publish appends the message to the queue's ready list and bumps its publish counter.
func (q *RedisQueue) Publish(ctx context.Context, queue string, body []byte) error {
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.readyKey(queue), body)
	pipe.HIncrBy(ctx, q.statsKey, queue, 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "publish to %s", queue)
	}
	return nil
}

// Depth returns the number of messages waiting in a queue.
func (q *RedisQueue) Depth(ctx context.Context, queue string) (int64, error) {
	n, err := q.client.LLen(ctx, q.readyKey(queue)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "depth of %s", queue)
	}
	return n, nil
}

// Peek reads up to count waiting messages without consuming them.
func (q *RedisQueue) Peek(ctx context.Context, queue string, count int64) ([][]byte, error) {
	items, err := q.client.LRange(ctx, q.readyKey(queue), 0, count-1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "peek %s", queue)
	}
	out := make([][]byte, 0, len(items))
	for _, it := range items {
		out = append(out, []byte(it))
	}
	return out, nil
}

// Published returns how many messages were ever published to a queue.
func (q *RedisQueue) Published(ctx context.Context, queue string) (int64, error) {
	n, err := q.client.HGet(ctx, q.statsKey, queue).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "published count of %s", queue)
	}
	return n, nil
}

// Close releases the Redis connection pool.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
