package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gregtusar/assetrouter/pkg/models"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	EventCreated   = "bridge.created"
	EventCompleted = "bridge.completed"
	EventFailed    = "bridge.failed"
)

type Event struct {
	Type          string                `json:"type"`
	BridgeID      string                `json:"bridge_id"`
	UserID        string                `json:"user_id"`
	BridgeType    models.ConversionType `json:"bridge_type"`
	Status        models.BridgeStatus   `json:"status"`
	FromAsset     models.AssetRef       `json:"from_asset"`
	ToAsset       models.AssetRef       `json:"to_asset"`
	FromAmount    decimal.Decimal       `json:"from_amount"`
	ToAmount      decimal.Decimal       `json:"to_amount"`
	FailureReason string                `json:"failure_reason,omitempty"`
	OccurredAt    time.Time             `json:"occurred_at"`
}

func newEvent(eventType string, b models.AssetBridge, at time.Time) Event {
	return Event{
		Type:          eventType,
		BridgeID:      b.ID,
		UserID:        b.UserID,
		BridgeType:    b.BridgeType,
		Status:        b.Status,
		FromAsset:     b.FromAsset,
		ToAsset:       b.ToAsset,
		FromAmount:    b.FromAmount,
		ToAmount:      b.ToAmount,
		FailureReason: b.FailureReason,
		OccurredAt:    at,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// KafkaPublisher writes events keyed by bridge id so every transition of one
// bridge lands on the same partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string, logger *logrus.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			MaxAttempts:  3,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Debugf(msg, args...)
			}),
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Errorf(msg, args...)
			}),
		},
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.BridgeID),
		Value: payload,
		Time:  event.OccurredAt,
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
