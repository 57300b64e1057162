package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
)

func TestPublish(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}

		if string(value) != `{"id":"corr-1-1"}` {
			return errors.New("unexpected payload")
		}

		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "correlation_id" {
			return errors.New("missing correlation header")
		}

		return nil
	})

	producer := NewProducerWith(mock)

	_, err := producer.Publish(context.Background(), Record{
		Topic:   "herald-deliveries",
		Key:     []byte("corr-1"),
		Value:   []byte(`{"id":"corr-1-1"}`),
		Headers: map[string]string{"correlation_id": "corr-1"},
	})
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestPublishFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewProducerWith(mock)

	_, err := producer.Publish(context.Background(), Record{Topic: "t", Value: []byte("x")})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, producer.Close())
}

func TestPublishCanceled(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	producer := NewProducerWith(mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := producer.Publish(ctx, Record{Topic: "t", Value: []byte("x")})
	require.ErrorIs(t, err, context.Canceled)
	require.NoError(t, producer.Close())
}

func TestHeader(t *testing.T) {
	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{
		{Key: []byte("channel"), Value: []byte("SMS")},
	}}

	require.Equal(t, "SMS", Header(msg, "channel"))
	require.Empty(t, Header(msg, "product_code"))
}
