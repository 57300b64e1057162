package kafka

import (
	"context"
	"sync"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const (
	mechanismPlain = "PLAINTEXT"
	mechanismSCRAM = "SCRAM-SHA-512"
)

// newSaramaConfig builds the shared client configuration. SCRAM-SHA-512 is only
// enabled when KAFKA_SASL_ENABLED is set so local brokers work without credentials.
func newSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_8_0_0
	cfg.ClientID = "herald"

	if config.Conf.KafkaSASLEnabled {
		cfg.Net.SASL.Enable = true
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		cfg.Net.SASL.User = config.Conf.KafkaUsername
		cfg.Net.SASL.Password = config.Conf.KafkaPassword
		cfg.Net.SASL.Handshake = true
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{}
		}
	}

	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.ResetInvalidOffsets = true
	cfg.Consumer.Return.Errors = true

	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll

	return cfg
}

func mechanism() string {
	if config.Conf.KafkaSASLEnabled {
		return mechanismSCRAM
	}

	return mechanismPlain
}

func createConsumerGroup(groupID string) (sarama.ConsumerGroup, error) {
	client, err := sarama.NewConsumerGroup(
		[]string{config.Conf.KafkaBootstrapServer},
		groupID,
		newSaramaConfig(),
	)
	if err != nil {
		logging.Logger.Error("Failed to create Kafka consumer group",
			zap.String("bootstrap", config.Conf.KafkaBootstrapServer),
			zap.String("group_id", groupID),
			zap.String("error", err.Error()),
		)

		return nil, err
	}

	logging.Logger.Info("Successfully connected to Kafka",
		zap.String("bootstrap", config.Conf.KafkaBootstrapServer),
		zap.String("group_id", groupID),
		zap.String("mechanism", mechanism()),
	)

	return client, nil
}

// runConsumerLoop re-joins the group after every rebalance until ctx is canceled.
func runConsumerLoop(ctx context.Context, client sarama.ConsumerGroup, topic string, handler sarama.ConsumerGroupHandler) {
	var waitGroup sync.WaitGroup

	waitGroup.Add(1)

	go func() {
		defer waitGroup.Done()

		topics := []string{topic}

		for {
			err := client.Consume(ctx, topics, handler)
			if err != nil {
				logging.Logger.Error("Kafka consume error",
					zap.String("topic", topic),
					zap.String("error", err.Error()),
				)
			}

			if ctx.Err() != nil {
				logging.Logger.Info("Kafka consumer stopping (context canceled)",
					zap.String("topic", topic),
					zap.String("error", ctx.Err().Error()),
				)

				return
			}
		}
	}()

	go func() {
		for err := range client.Errors() {
			logging.Logger.Error("Kafka consumer internal error", zap.String("error", err.Error()))
		}
	}()

	waitGroup.Wait()
}

// Ping refreshes the metadata of topic through a short-lived client.
func Ping(topic string) error {
	client, err := sarama.NewClient([]string{config.Conf.KafkaBootstrapServer}, newSaramaConfig())
	if err != nil {
		return err
	}

	defer func() {
		closeErr := client.Close()
		if closeErr != nil {
			logging.Logger.Warn("Failed to close Kafka ping client", zap.String("error", closeErr.Error()))
		}
	}()

	return client.RefreshMetadata(topic)
}
