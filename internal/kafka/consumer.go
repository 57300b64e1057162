package kafka

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// MessageHandler processes one record. The offset is marked only when it returns nil;
// an error stops the claim so the record is consumed again after the next rebalance.
type MessageHandler func(context.Context, *sarama.ConsumerMessage) error

type Consumer struct {
	Client sarama.ConsumerGroup
}

// NewConsumer joins the delivery worker group configured by KAFKA_GROUP_ID.
func NewConsumer() (*Consumer, error) {
	client, err := createConsumerGroup(config.Conf.KafkaGroupID)
	if err != nil {
		return nil, err
	}

	return &Consumer{Client: client}, nil
}

// Consume blocks until ctx is canceled.
func (c *Consumer) Consume(ctx context.Context, topic string, messageHandler MessageHandler) {
	runConsumerLoop(ctx, c.Client, topic, &consumerGroupHandler{messageHandler: messageHandler})
}

func (c *Consumer) Close() error {
	err := c.Client.Close()
	if err != nil {
		logging.Logger.Error("Failed to close Kafka consumer", zap.String("error", err.Error()))
		return err
	}

	logging.Logger.Info("Kafka consumer closed successfully")

	return nil
}

type consumerGroupHandler struct {
	messageHandler MessageHandler
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(
	session sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			err := h.messageHandler(session.Context(), message)
			if err != nil {
				logging.Logger.Warn("Record left unacknowledged",
					zap.String("topic", message.Topic),
					zap.Int32("partition", message.Partition),
					zap.Int64("offset", message.Offset),
					zap.String("error", err.Error()),
				)

				return nil
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
