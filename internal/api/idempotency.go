package api

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore caches /send responses by the caller's Idempotency-Key.
type IdempotencyStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{
		Client: client,
		TTL:    time.Duration(config.Conf.IdempotencyTTLHours) * time.Hour,
	}
}

func idempotencyKey(key string) string {
	return "idempotency:" + key
}

// Get returns nil when nothing is cached under key.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*SendResponse, error) {
	data, err := s.Client.Get(ctx, idempotencyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	var resp SendResponse

	err = json.Unmarshal(data, &resp)
	if err != nil {
		return nil, err
	}

	return &resp, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, key string, resp SendResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	return s.Client.Set(ctx, idempotencyKey(key), data, s.TTL).Err()
}
