package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/linenloft/api/internal/services"
)

type stubSyncProducer struct {
	messages []*sarama.ProducerMessage
	err      error
}

func (s *stubSyncProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	if s.err != nil {
		return 0, 0, s.err
	}
	s.messages = append(s.messages, msg)
	return 0, int64(len(s.messages)), nil
}

func (s *stubSyncProducer) Close() error { return nil }

func newTestProducer(stub *stubSyncProducer) *Producer {
	return &Producer{
		producer: stub,
		topic:    "linenloft.notifications",
		logger:   zap.NewNop(),
	}
}

func TestNotifyPublishesKeyedByOrder(t *testing.T) {
	stub := &stubSyncProducer{}
	p := newTestProducer(stub)

	occurred := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.Notify(context.Background(), services.Notification{
		Kind:       "order.confirmed",
		OrderID:    "ord_1",
		Email:      "ada@example.com",
		OccurredAt: occurred,
		Fields:     map[string]string{"order_number": "LL-2026-000001"},
	})

	require.Len(t, stub.messages, 1)
	msg := stub.messages[0]
	assert.Equal(t, "linenloft.notifications", msg.Topic)

	key, err := msg.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, "ord_1", string(key))

	payload, err := msg.Value.Encode()
	require.NoError(t, err)
	var decoded message
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "order.confirmed", decoded.Kind)
	assert.Equal(t, "ord_1", decoded.OrderID)
	assert.NotEmpty(t, decoded.ID)
	assert.True(t, decoded.OccurredAt.Equal(occurred))
	assert.Equal(t, "LL-2026-000001", decoded.Fields["order_number"])
}

func TestNotifySwallowsSendErrors(t *testing.T) {
	stub := &stubSyncProducer{err: errors.New("broker down")}
	p := newTestProducer(stub)

	// Must not panic or propagate.
	p.Notify(context.Background(), services.Notification{Kind: "order.confirmed", OrderID: "ord_1"})
	assert.Empty(t, stub.messages)
}

func TestNewProducerValidation(t *testing.T) {
	_, err := NewProducer(nil, "topic", zap.NewNop())
	require.Error(t, err)

	_, err = NewProducer([]string{"localhost:9092"}, "", zap.NewNop())
	require.Error(t, err)
}
