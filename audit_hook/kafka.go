package audithook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic is the topic audit events are published to.
const DefaultTopic = "settle.audit"

// MessageWriter is the subset of *kafka.Writer the recorder uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRecorder publishes audit events as JSON, keyed by resource ID so the
// events of one payment land on one partition.
type KafkaRecorder struct {
	writer MessageWriter
	now    func() time.Time
}

// NewKafkaRecorder creates a recorder writing to topic on brokers. An empty
// topic uses DefaultTopic.
func NewKafkaRecorder(brokers []string, topic string) *KafkaRecorder {
	if topic == "" {
		topic = DefaultTopic
	}
	return NewKafkaRecorderWithWriter(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaRecorderWithWriter creates a recorder over an existing writer.
func NewKafkaRecorderWithWriter(w MessageWriter) *KafkaRecorder {
	return &KafkaRecorder{writer: w, now: time.Now}
}

// Record implements Recorder.
func (k *KafkaRecorder) Record(ctx context.Context, event *AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit_hook: marshal event: %w", err)
	}

	key := event.ResourceID
	if key == "" {
		key = event.Action
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  k.now(),
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(event.Action)},
			{Key: "severity", Value: []byte(event.Severity)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit_hook: publish %s: %w", event.Action, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *KafkaRecorder) Close() error {
	return k.writer.Close()
}
