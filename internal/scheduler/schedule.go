package scheduler

import (
	"context"
	"time"
)

// nextDaily returns the next instant strictly after now at hour:00 UTC.
func nextDaily(now time.Time, hour int) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)

	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	return next
}

// runDaily calls fn once per day at hour UTC until ctx is canceled.
func runDaily(ctx context.Context, hour int, now func() time.Time, fn func(context.Context)) {
	for {
		timer := time.NewTimer(nextDaily(now(), hour).Sub(now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn(ctx)
		}
	}
}
