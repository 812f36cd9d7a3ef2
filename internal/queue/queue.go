// Package queue carries dispatched stage tasks to the external workers.
package queue

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"content-pipeline-scheduler/internal/config"
)

// Publisher is a one-way, at-least-once sink for task messages.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Close() error
}

// DepthReader is implemented by publishers that can report backlog size.
type DepthReader interface {
	Depth(ctx context.Context, queue string) (int64, error)
}

// New picks the publisher named by cfg.QueueDriver.
func New(cfg config.Config, logger *zap.SugaredLogger) (Publisher, error) {
	switch cfg.QueueDriver {
	case "", "redis":
		return NewRedisQueue(cfg), nil
	case "kafka":
		return NewKafkaQueue(cfg.KafkaBrokers, logger)
	case "memory":
		q, _ := NewMemoryQueue(logger)
		return q, nil
	default:
		return nil, errors.Newf("unknown queue driver %q", cfg.QueueDriver)
	}
}
