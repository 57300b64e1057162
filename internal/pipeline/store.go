package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	prometheusHerald "git.mci.dev/mse/sre/phoenix/golang/herald/internal/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store keeps the externally persisted pipeline health: the operational flag per
// (channel, provider), the last observed breaker state, and SMS balances.
type Store struct {
	Client *redis.Client
	Now    func() time.Time
}

func NewStore(client *redis.Client) *Store {
	return &Store{Client: client, Now: time.Now}
}

func operationalKey(channel message.Channel, provider string) string {
	return fmt.Sprintf("pipeline:%s:%s:operational", channel, provider)
}

func breakerKey(channel message.Channel, provider string) string {
	return fmt.Sprintf("pipeline:%s:%s:breaker", channel, provider)
}

func balanceKey(provider string) string {
	return "sms:" + provider + ":balance"
}

func lastCheckedKey(provider string) string {
	return "sms:" + provider + ":lastChecked"
}

// IsOperational reports the persisted flag. Only an explicit "false" is unhealthy;
// an unset flag is operational.
func (s *Store) IsOperational(ctx context.Context, channel message.Channel, provider string) (bool, error) {
	value, err := s.Client.Get(ctx, operationalKey(channel, provider)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}

	if err != nil {
		return false, err
	}

	return value != "false", nil
}

func (s *Store) SetOperational(ctx context.Context, channel message.Channel, provider string, operational bool) error {
	err := s.Client.Set(ctx, operationalKey(channel, provider), strconv.FormatBool(operational), 0).Err()
	if err != nil {
		return err
	}

	logging.Logger.Info("Pipeline health updated",
		zap.String("channel", string(channel)),
		zap.String("provider", provider),
		zap.Bool("operational", operational),
	)

	gauge := 0.0
	if operational {
		gauge = 1
	}

	prometheusHerald.PipelineHealth.WithLabelValues(string(channel), provider).Set(gauge)

	return nil
}

// SetBreakerState records the last breaker transition observed by this process.
func (s *Store) SetBreakerState(ctx context.Context, channel message.Channel, provider, state string) error {
	return s.Client.Set(ctx, breakerKey(channel, provider), state, 0).Err()
}

func (s *Store) BreakerState(ctx context.Context, channel message.Channel, provider string) (string, error) {
	value, err := s.Client.Get(ctx, breakerKey(channel, provider)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}

	return value, err
}

// UpdateSMSBalance stores the balance and check time; a zero balance marks the
// SMS pipeline non-operational, a positive one restores it.
func (s *Store) UpdateSMSBalance(ctx context.Context, provider string, balance float64) error {
	_, err := s.Client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, balanceKey(provider), strconv.FormatFloat(balance, 'f', -1, 64), 0)
		pipe.Set(ctx, lastCheckedKey(provider), strconv.FormatInt(s.Now().UnixMilli(), 10), 0)

		return nil
	})
	if err != nil {
		return err
	}

	prometheusHerald.SMSBalance.WithLabelValues(provider).Set(balance)

	return s.SetOperational(ctx, message.ChannelSMS, provider, balance > 0)
}

// SMSBalance returns nil when no balance was ever recorded.
func (s *Store) SMSBalance(ctx context.Context, provider string) (*float64, error) {
	value, err := s.Client.Get(ctx, balanceKey(provider)).Float64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return &value, nil
}

func (s *Store) LastBalanceCheck(ctx context.Context, provider string) (*time.Time, error) {
	millis, err := s.Client.Get(ctx, lastCheckedKey(provider)).Int64()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	checked := time.UnixMilli(millis).UTC()

	return &checked, nil
}
