package redisstore

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// NewClient connects to redis with the infrastructure breaker installed as a hook.
func NewClient() (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Conf.RedisAddr,
		Password: config.Conf.RedisPassword,
		DB:       config.Conf.RedisDB,
		PoolSize: config.Conf.RedisPoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	err := client.Ping(ctx).Err()
	if err != nil {
		logging.Logger.Error("Failed to connect to Redis",
			zap.String("addr", config.Conf.RedisAddr),
			zap.String("error", err.Error()),
		)

		_ = client.Close()

		return nil, err
	}

	client.AddHook(NewBreakerHook())

	logging.Logger.Info("Successfully connected to Redis", zap.String("addr", config.Conf.RedisAddr))

	return client, nil
}
