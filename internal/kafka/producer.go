package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	Topic  string
}

// NewProducer returns an asynchronous producer; WriteMessages returns as soon as the
// message is queued and delivery errors surface through the writer's completion hook.
func NewProducer(brokers []string, topic string, onError func(error)) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil && onError != nil {
				onError(fmt.Errorf("deliver %d message(s) to %s: %w", len(messages), topic, err))
			}
		},
	}
	return &Producer{Writer: writer, Topic: topic}
}

// PublishJSON streams v as a JSON message keyed by key.
func (p *Producer) PublishJSON(ctx context.Context, key string, v any) error {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", p.Topic, err)
	}

	return p.Writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(key),
			Value: msgBytes,
		},
	)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
