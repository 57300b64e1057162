package kafka

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/IBM/sarama"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// Record is one outgoing queue entry. Headers travel as kafka record headers so
// consumers can log them without decoding the value.
type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Placement is where the broker stored a record.
type Placement struct {
	Partition int32
	Offset    int64
}

type Producer struct {
	Client  sarama.SyncProducer
	Breaker *gobreaker.CircuitBreaker[Placement]
}

func NewProducer() (*Producer, error) {
	client, err := sarama.NewSyncProducer([]string{config.Conf.KafkaBootstrapServer}, newSaramaConfig())
	if err != nil {
		logging.Logger.Error("Failed to create Kafka producer",
			zap.String("bootstrap", config.Conf.KafkaBootstrapServer),
			zap.String("error", err.Error()),
		)

		return nil, err
	}

	logging.Logger.Info("Kafka producer ready",
		zap.String("bootstrap", config.Conf.KafkaBootstrapServer),
		zap.String("mechanism", mechanism()),
	)

	return NewProducerWith(client), nil
}

// NewProducerWith wraps an existing sync producer, such as sarama's mocks in tests.
func NewProducerWith(client sarama.SyncProducer) *Producer {
	return &Producer{
		Client: client,
		Breaker: gobreaker.NewCircuitBreaker[Placement](gobreaker.Settings{
			Name:     circuitbreak.KafkaProducerService,
			Interval: time.Duration(config.Conf.KafkaIntervalCB) * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.Conf.KafkaConsecutiveFailuresCB
			},
			OnStateChange: onProducerStateChange,
		}),
	}
}

func onProducerStateChange(name string, from, to gobreaker.State) {
	logging.Logger.Warn("Kafka producer breaker changed state",
		zap.String("breaker", name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)

	if to == gobreaker.StateOpen {
		circuitbreak.TriggerError(circuitbreak.KafkaProducerService)
	}
}

// Publish sends one record through the producer breaker. sarama's sync producer
// takes no context, so ctx is only checked up front.
func (p *Producer) Publish(ctx context.Context, record Record) (Placement, error) {
	err := ctx.Err()
	if err != nil {
		return Placement{}, err
	}

	return p.Breaker.Execute(func() (Placement, error) {
		partition, offset, err := p.Client.SendMessage(toProducerMessage(record))
		if err != nil {
			logging.Logger.Error("Failed to publish record",
				zap.String("topic", record.Topic),
				zap.String("error", err.Error()),
			)

			return Placement{}, err
		}

		return Placement{Partition: partition, Offset: offset}, nil
	})
}

func toProducerMessage(record Record) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic: record.Topic,
		Value: sarama.ByteEncoder(record.Value),
	}

	if len(record.Key) > 0 {
		msg.Key = sarama.ByteEncoder(record.Key)
	}

	for name, value := range record.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(value)})
	}

	return msg
}

// Header returns the value of the named record header, or "".
func Header(msg *sarama.ConsumerMessage, name string) string {
	for _, header := range msg.Headers {
		if header != nil && string(header.Key) == name {
			return string(header.Value)
		}
	}

	return ""
}

func (p *Producer) Close() error {
	err := p.Client.Close()
	if err != nil {
		logging.Logger.Error("Failed to close Kafka producer", zap.String("error", err.Error()))
		return err
	}

	logging.Logger.Info("Kafka producer closed")

	return nil
}
