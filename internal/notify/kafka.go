package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/ShayCichocki/courier/internal/config"
)

// messageWriter is the subset of *kafka.Writer the reporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter publishes updates as JSON, keyed by session id so that a
// session's updates stay ordered within one partition.
type KafkaReporter struct {
	topic  string
	writer messageWriter
}

// NewKafkaReporter creates a reporter writing to cfg.Topic on cfg.Brokers.
func NewKafkaReporter(cfg config.KafkaConfig) *KafkaReporter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaReporter{topic: cfg.Topic, writer: w}
}

// Name implements Reporter.
func (k *KafkaReporter) Name() string { return "kafka" }

// Report implements Reporter.
func (k *KafkaReporter) Report(ctx context.Context, u Update) error {
	value, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(u.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(u.Kind)},
		},
		Time: u.Timestamp,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write to %s: %w", k.topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *KafkaReporter) Close() error {
	return k.writer.Close()
}
