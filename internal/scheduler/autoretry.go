package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/deadletter"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// retryDelays is the minimum age of an entry before its next automatic replay,
// indexed by how many replays it already had.
var retryDelays = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}

type EntrySource interface {
	Head(ctx context.Context, limit int) ([]deadletter.Entry, error)
}

type Replayer interface {
	Replay(ctx context.Context, correlationID string) (deadletter.ReplayResult, error)
}

type SweepResult struct {
	Scanned    int
	Eligible   int
	Duplicates int
	Replayed   int
	Failed     int
}

type AutoRetry struct {
	Entries    EntrySource
	Replayer   Replayer
	WorkerPool *ants.Pool
	Interval   time.Duration
	BatchLimit int
	Now        func() time.Time

	running atomic.Bool
}

func NewAutoRetry(entries EntrySource, replayer Replayer, workerPool *ants.Pool) *AutoRetry {
	return &AutoRetry{
		Entries:    entries,
		Replayer:   replayer,
		WorkerPool: workerPool,
		Interval:   time.Duration(config.Conf.AutoRetryIntervalMinutes) * time.Minute,
		BatchLimit: config.Conf.AutoRetryBatchLimit,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Eligible applies the staged backoff: 1m after the first failure, 5m after the
// first replay, 15m after the second, and never once the cap is reached.
func Eligible(entry deadletter.Entry, now time.Time) bool {
	if entry.RetryAttempts < 0 || entry.RetryAttempts >= deadletter.MaxRetryAttempts {
		return false
	}

	return now.Sub(entry.FirstQueuedAt) >= retryDelays[entry.RetryAttempts]
}

func (a *AutoRetry) Run(ctx context.Context) {
	logging.Logger.Info("Auto-retry job scheduled", zap.Duration("interval", a.Interval))

	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}

// Sweep replays every eligible entry among the newest BatchLimit. A correlation id
// is replayed at most once per sweep, even when the store holds it twice. It reports
// false without doing anything when a previous sweep is still running.
func (a *AutoRetry) Sweep(ctx context.Context) (SweepResult, bool) {
	if !a.running.CompareAndSwap(false, true) {
		logging.Logger.Info("Auto-retry already running, skipping")
		return SweepResult{}, false
	}
	defer a.running.Store(false)

	entries, err := a.Entries.Head(ctx, a.BatchLimit)
	if err != nil {
		logging.Logger.Error("Auto-retry job error", zap.String("error", err.Error()))
		return SweepResult{}, true
	}

	result := SweepResult{Scanned: len(entries)}
	if len(entries) == 0 {
		logging.Logger.Info("DLQ is empty, nothing to retry")
		return result, true
	}

	now := a.Now()
	claimed := make(map[string]struct{}, len(entries))

	var (
		waitGroup sync.WaitGroup
		replayed  atomic.Int64
		failed    atomic.Int64
	)

	for _, entry := range entries {
		if !Eligible(entry, now) {
			continue
		}

		if _, ok := claimed[entry.CorrelationID]; ok {
			result.Duplicates++

			logging.Logger.Warn("Skipping duplicate dead letter entry",
				zap.String("correlation_id", entry.CorrelationID),
			)

			continue
		}

		claimed[entry.CorrelationID] = struct{}{}
		result.Eligible++

		waitGroup.Add(1)

		task := func() {
			defer waitGroup.Done()

			if a.replay(ctx, entry) {
				replayed.Add(1)
			} else {
				failed.Add(1)
			}
		}

		err := a.submit(task)
		if err != nil {
			waitGroup.Done()
			failed.Add(1)

			logging.Logger.Error("failed to submit auto-retry to worker pool",
				zap.String("correlation_id", entry.CorrelationID),
				zap.String("error", err.Error()),
			)
		}
	}

	waitGroup.Wait()

	result.Replayed = int(replayed.Load())
	result.Failed = int(failed.Load())

	logging.Logger.Info("Auto-retry job completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("eligible", result.Eligible),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("replayed", result.Replayed),
		zap.Int("failed", result.Failed),
	)

	return result, true
}

func (a *AutoRetry) submit(task func()) error {
	if a.WorkerPool == nil {
		task()
		return nil
	}

	return a.WorkerPool.Submit(task)
}

func (a *AutoRetry) replay(ctx context.Context, entry deadletter.Entry) bool {
	_, err := a.Replayer.Replay(ctx, entry.CorrelationID)
	if err != nil {
		logging.Logger.Error("Auto-retry failed",
			zap.String("correlation_id", entry.CorrelationID),
			zap.String("error", err.Error()),
		)

		return false
	}

	logging.Logger.Info("Auto-retry successful",
		zap.String("correlation_id", entry.CorrelationID),
		zap.Int("attempt", entry.RetryAttempts+1),
	)

	return true
}
