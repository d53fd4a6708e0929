package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/alertops-platform/caseflow/internal/model"
)

// EventPublisher emits case events onto the event bus for downstream
// consumers (reporting, chat integrations).
type EventPublisher interface {
	Publish(ctx context.Context, event *model.CaseEvent) error
}

// KafkaEvents publishes case events to a Kafka topic, keyed by case ID so one
// case's events stay ordered within a partition.
type KafkaEvents struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaEvents connects a Kafka producer.
func NewKafkaEvents(brokers []string, topic string, logger *slog.Logger) (*KafkaEvents, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &KafkaEvents{client: client, topic: topic, logger: logger}, nil
}

// Publish produces one event asynchronously. Broker errors are logged, never
// returned to the pipeline.
func (k *KafkaEvents) Publish(ctx context.Context, event *model.CaseEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode case event: %w", err)
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.CaseID),
		Value: payload,
	}
	k.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil {
			k.logger.Error("failed to produce case event",
				"case_id", event.CaseID, "type", event.Type, "error", err)
		}
	})
	return nil
}

// Close flushes and closes the producer.
func (k *KafkaEvents) Close() {
	k.client.Close()
}

// NopEvents is used when Kafka is not configured.
type NopEvents struct{}

// Publish discards the event.
func (NopEvents) Publish(context.Context, *model.CaseEvent) error { return nil }
