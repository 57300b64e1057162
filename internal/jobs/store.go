package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

var ErrMissingJobID = errors.New("job id is missing")

func statusKey(id string) string {
	return "job:" + id
}

// StatusStore keeps job states in redis. Completed and failed jobs expire after
// their own retention; pending ones use the failed retention as an upper bound.
type StatusStore struct {
	Client       *redis.Client
	CompletedTTL time.Duration
	FailedTTL    time.Duration
}

func NewStatusStore(client *redis.Client) *StatusStore {
	return &StatusStore{
		Client:       client,
		CompletedTTL: time.Duration(config.Conf.JobCompletedTTLHours) * time.Hour,
		FailedTTL:    time.Duration(config.Conf.JobFailedTTLHours) * time.Hour,
	}
}

func (s *StatusStore) Save(ctx context.Context, status Status) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	ttl := s.FailedTTL
	if status.State == StateCompleted {
		ttl = s.CompletedTTL
	}

	return s.Client.Set(ctx, statusKey(status.ID), data, ttl).Err()
}

func (s *StatusStore) Get(ctx context.Context, id string) (*Status, error) {
	data, err := s.Client.Get(ctx, statusKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, message.New(message.CodeNotFound, fmt.Sprintf("job %s not found", id), nil)
	}

	if err != nil {
		return nil, err
	}

	var status Status

	err = json.Unmarshal(data, &status)
	if err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}

	return &status, nil
}

func (s *StatusStore) Delete(ctx context.Context, id string) error {
	return s.Client.Del(ctx, statusKey(id)).Err()
}
