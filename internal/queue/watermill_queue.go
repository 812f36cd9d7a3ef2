package queue

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// WatermillQueue publishes task messages through a watermill publisher; the
// queue name becomes the topic.
type WatermillQueue struct {
	publisher message.Publisher
}

// NewWatermillQueue wraps any watermill publisher.
func NewWatermillQueue(pub message.Publisher) *WatermillQueue {
	return &WatermillQueue{publisher: pub}
}

// NewMemoryQueue returns an in-process gochannel queue together with the
// pubsub so that tests and local runs can subscribe to the topics.
func NewMemoryQueue(logger *zap.SugaredLogger) (*WatermillQueue, *gochannel.GoChannel) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            1000,
		Persistent:                     true,
		BlockPublishUntilSubscriberAck: false,
	}, NewLoggerAdapter(logger))
	return NewWatermillQueue(pubSub), pubSub
}

// NewKafkaQueue connects a Kafka publisher.
func NewKafkaQueue(brokers []string, logger *zap.SugaredLogger) (*WatermillQueue, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka queue requires at least one broker")
	}
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal

	pub, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:               brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaCfg,
	}, NewLoggerAdapter(logger))
	if err != nil {
		return nil, errors.Wrap(err, "create kafka publisher")
	}
	return NewWatermillQueue(pub), nil
}

// Publish sends the body as a single watermill message.
func (q *WatermillQueue) Publish(ctx context.Context, queue string, body []byte) error {
	msg := message.NewMessage(watermill.NewULID(), body)
	msg.SetContext(ctx)
	msg.Metadata.Set("queue", queue)
	if err := q.publisher.Publish(queue, msg); err != nil {
		return errors.Wrapf(err, "publish to %s", queue)
	}
	return nil
}

// Close shuts the underlying publisher down.
func (q *WatermillQueue) Close() error {
	return q.publisher.Close()
}

type zapAdapter struct {
	logger *zap.SugaredLogger
}

// NewLoggerAdapter routes watermill's logging into zap.
func NewLoggerAdapter(logger *zap.SugaredLogger) watermill.LoggerAdapter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return zapAdapter{logger: logger.Named("watermill")}
}

func (a zapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.logger.Errorw(msg, append(flatten(fields), "error", err)...)
}

func (a zapAdapter) Info(msg string, fields watermill.LogFields) {
	a.logger.Infow(msg, flatten(fields)...)
}

func (a zapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.logger.Debugw(msg, flatten(fields)...)
}

func (a zapAdapter) Trace(msg string, fields watermill.LogFields) {
	a.logger.Debugw(msg, flatten(fields)...)
}

func (a zapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zapAdapter{logger: a.logger.With(flatten(fields)...)}
}

func flatten(fields watermill.LogFields) []any {
	out := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		out = append(out, k, v)
	}
	return out
}
