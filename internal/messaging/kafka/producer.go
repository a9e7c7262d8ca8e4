// Package kafka publishes notification events to a Kafka topic. Delivery is
// best effort by contract: callers treat the notifier as fire-and-forget.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/linenloft/api/internal/services"
)

// syncProducer narrows sarama.SyncProducer to what publishing needs.
type syncProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// Producer wraps a sarama SyncProducer for notification publishing.
type Producer struct {
	producer syncProducer
	topic    string
	logger   *zap.Logger
}

// NewProducer connects a synchronous, idempotent producer to the brokers.
func NewProducer(brokers []string, topic string, logger *zap.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: at least one broker is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka producer: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		topic:    topic,
		logger:   logger.With(zap.String("component", "kafka-producer")),
	}, nil
}

// message is the wire shape of a published notification.
type message struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	OrderID    string            `json:"order_id,omitempty"`
	ReturnID   string            `json:"return_id,omitempty"`
	Email      string            `json:"email,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Notify publishes the notification keyed by order id so per-order events
// stay ordered. Errors are logged, never returned: a failed send must not
// fail the state change that produced it.
func (p *Producer) Notify(ctx context.Context, n services.Notification) {
	msg := message{
		ID:         uuid.NewString(),
		Kind:       n.Kind,
		OrderID:    n.OrderID,
		ReturnID:   n.ReturnID,
		Email:      n.Email,
		OccurredAt: n.OccurredAt,
		Fields:     n.Fields,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("marshal notification", zap.String("kind", n.Kind), zap.Error(err))
		return
	}

	key := n.OrderID
	if key == "" {
		key = msg.ID
	}

	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: n.OccurredAt,
	})
	if err != nil {
		p.logger.Error("send notification",
			zap.String("kind", n.Kind),
			zap.String("orderId", n.OrderID),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("notification sent",
		zap.String("kind", n.Kind),
		zap.String("orderId", n.OrderID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
}

// Close shuts the underlying producer down.
func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

var _ services.Notifier = (*Producer)(nil)
