// Package events publishes settlement audit events to Kafka. Consumers use
// the stream to reconcile abandoned pending records against the ledger.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mockmate/creditgate/internal/models"
	"github.com/mockmate/creditgate/internal/telemetry"
)

// Topic is the Kafka topic settlement events are published on.
const Topic = "payment.settled"

// Publisher emits settlement audit events.
type Publisher interface {
	PublishSettlement(ctx context.Context, event models.SettlementEvent)
}

// KafkaPublisher writes settlement events to Kafka, keyed by transaction id.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers.
func NewKafkaPublisher(brokers string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers),
			Topic:    Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

// PublishSettlement emits one event. Publish failures are logged and
// swallowed: the audit stream must never fail a settlement that already
// happened.
func (p *KafkaPublisher) PublishSettlement(ctx context.Context, event models.SettlementEvent) {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		telemetry.Logger.Error("Failed to marshal settlement event", zap.Error(err))
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TransactionID),
		Value: payload,
	})
	if err != nil {
		telemetry.Logger.Error("Failed to publish settlement event",
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
