package redisstore

import (
	"context"
	"errors"
	"net"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerHook runs every command and pipeline through one breaker. redis.Nil is a
// normal reply and never counts as a failure.
type BreakerHook struct {
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewBreakerHook() *BreakerHook {
	return NewBreakerHookWith(gobreaker.Settings{
		Name:     circuitbreak.RedisService,
		Interval: time.Duration(config.Conf.RedisIntervalCB) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.Conf.RedisConsecutiveFailuresCB
		},
	})
}

// NewBreakerHookWith keeps the caller's trip rule and adds the success rule and the
// state-change reporting.
func NewBreakerHookWith(settings gobreaker.Settings) *BreakerHook {
	settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, redis.Nil)
	}
	settings.OnStateChange = func(name string, fromState, toState gobreaker.State) {
		logging.Logger.Warn("Circuit state changed",
			zap.String("service", name),
			zap.String("from", fromState.String()),
			zap.String("to", toState.String()),
		)

		if toState == gobreaker.StateOpen {
			circuitbreak.TriggerError(circuitbreak.RedisService)
		}
	}

	return &BreakerHook{CircuitBreaker: gobreaker.NewCircuitBreaker[any](settings)}
}

func (h *BreakerHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *BreakerHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		_, err := h.CircuitBreaker.Execute(func() (any, error) {
			return nil, next(ctx, cmd)
		})

		return err
	}
}

func (h *BreakerHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		_, err := h.CircuitBreaker.Execute(func() (any, error) {
			return nil, next(ctx, cmds)
		})

		return err
	}
}
