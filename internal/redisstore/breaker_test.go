package redisstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/require"
)

func newHookedClient(t *testing.T) (*redis.Client, *BreakerHook, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	hook := NewBreakerHookWith(gobreaker.Settings{
		Name: "redis",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})
	client.AddHook(hook)

	return client, hook, mr
}

func TestBreakerHookIgnoresNil(t *testing.T) {
	client, hook, _ := newHookedClient(t)
	ctx := context.Background()

	for range 3 {
		err := client.Get(ctx, "missing").Err()
		require.ErrorIs(t, err, redis.Nil)
	}

	require.Equal(t, gobreaker.StateClosed, hook.CircuitBreaker.State())
}

func TestBreakerHookOpensOnFailures(t *testing.T) {
	client, hook, mr := newHookedClient(t)
	ctx := context.Background()

	mr.SetError("LOADING")

	for range 2 {
		require.Error(t, client.Set(ctx, "k", "v", 0).Err())
	}

	require.Equal(t, gobreaker.StateOpen, hook.CircuitBreaker.State())

	mr.SetError("")

	err := client.Set(ctx, "k", "v", 0).Err()
	require.True(t, errors.Is(err, gobreaker.ErrOpenState))
}
