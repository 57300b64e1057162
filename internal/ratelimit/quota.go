package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"github.com/redis/go-redis/v9"
)

const quotaKeyPrefix = "ratelimit:"

// QuotaGate enforces the per-product daily send quota. The counter is checked
// before a send and incremented only after a confirmed one, so concurrent sends at
// the boundary may exceed the quota by the number in flight.
type QuotaGate struct {
	Client *redis.Client
	Now    func() time.Time
}

func NewQuotaGate(client *redis.Client) *QuotaGate {
	return &QuotaGate{Client: client, Now: time.Now}
}

func QuotaKey(productCode string, day time.Time) string {
	return quotaKeyPrefix + productCode + ":" + day.UTC().Format(time.DateOnly)
}

func endOfDay(t time.Time) time.Time {
	t = t.UTC()

	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}

func (q *QuotaGate) Count(ctx context.Context, productCode string) (int64, error) {
	count, err := q.Client.Get(ctx, QuotaKey(productCode, q.Now())).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("read quota counter: %w", err)
	}

	return count, nil
}

// Check fails with RATE_LIMIT_EXCEEDED once today's count reached the limit.
func (q *QuotaGate) Check(ctx context.Context, productCode string, dailyLimit int64) error {
	count, err := q.Count(ctx, productCode)
	if err != nil {
		return err
	}

	if count >= dailyLimit {
		return message.New(
			message.CodeRateLimitExceeded,
			fmt.Sprintf("Daily limit of %d exceeded for product %s", dailyLimit, productCode),
			map[string]any{"productCode": productCode, "dailyLimit": dailyLimit, "count": count},
		)
	}

	return nil
}

// Increment counts one confirmed send; the counter expires at the end of the UTC day.
func (q *QuotaGate) Increment(ctx context.Context, productCode string) error {
	now := q.Now()
	key := QuotaKey(productCode, now)

	_, err := q.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, endOfDay(now))

		return nil
	})
	if err != nil {
		return fmt.Errorf("increment quota counter: %w", err)
	}

	return nil
}
