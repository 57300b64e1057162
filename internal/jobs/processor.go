package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	prometheusHerald "git.mci.dev/mse/sre/phoenix/golang/herald/internal/prometheus"
	"github.com/avast/retry-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	progressStarted = 10
	progressDone    = 100

	sentSuccess     = "success"
	sentFailed      = "failed"
	unknownProvider = "unknown"
)

// ErrJobInterrupted means the worker stopped before the job reached a final state.
// The record must not be acknowledged so it is consumed again.
var ErrJobInterrupted = errors.New("job interrupted before completion")

type Deliverer interface {
	Deliver(ctx context.Context, req message.Request) (*message.Result, error)
}

// Processor runs one job through the orchestrator. Only infrastructure errors are
// retried here; domain failures, including exhaustion, are final.
type Processor struct {
	Deliverer Deliverer
	Statuses  *StatusStore
	Counters  *redis.Client
	Attempts  uint
	Backoff   time.Duration
	Now       func() time.Time
}

func NewProcessor(deliverer Deliverer, statuses *StatusStore, counters *redis.Client) *Processor {
	return &Processor{
		Deliverer: deliverer,
		Statuses:  statuses,
		Counters:  counters,
		Attempts:  config.Conf.QueueJobAttempts,
		Backoff:   time.Duration(config.Conf.QueueJobBackoff) * time.Second,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Retryable reports whether err came from infrastructure rather than the delivery domain.
func Retryable(err error) bool {
	var msgErr *message.Error

	return !errors.As(err, &msgErr)
}

func (p *Processor) Process(ctx context.Context, job Job) error {
	prometheusHerald.QueueJobsActive.Inc()
	defer prometheusHerald.QueueJobsActive.Dec()

	startedAt := p.Now()
	status := Status{
		ID:          job.ID,
		State:       StateActive,
		Progress:    progressStarted,
		Data:        job.Request,
		CreatedAt:   job.CreatedAt,
		ProcessedOn: &startedAt,
	}
	p.saveStatus(ctx, status)

	logging.Logger.Info("Processing message job",
		zap.String("job_id", job.ID),
		zap.String("correlation_id", job.Request.CorrelationID),
		zap.String("product_code", job.Request.ProductCode),
		zap.String("channel", string(job.Request.Channel)),
	)

	var result *message.Result

	err := retry.Do(
		func() error {
			status.AttemptsMade++

			var deliverErr error

			result, deliverErr = p.Deliverer.Deliver(ctx, job.Request)

			return deliverErr
		},
		retry.Context(ctx),
		retry.Attempts(max(p.Attempts, 1)),
		retry.Delay(p.Backoff),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(Retryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logging.Logger.Warn("Retrying message job",
				zap.String("job_id", job.ID),
				zap.Uint("attempt", n+1),
				zap.String("error", err.Error()),
			)
		}),
	)

	if err != nil && Retryable(err) && ctx.Err() != nil {
		status.State = StateQueued
		status.Progress = 0
		status.ProcessedOn = nil
		status.FailedReason = err.Error()
		p.saveStatus(ctx, status)

		logging.Logger.Warn("Job interrupted, leaving it for redelivery",
			zap.String("job_id", job.ID),
			zap.String("correlation_id", job.Request.CorrelationID),
			zap.String("error", err.Error()),
		)

		return fmt.Errorf("%w: %w", ErrJobInterrupted, err)
	}

	finishedAt := p.Now()
	status.FinishedOn = &finishedAt

	if err != nil {
		status.State = StateFailed
		status.FailedReason = err.Error()
		p.saveStatus(ctx, status)
		p.countSent(ctx, job.Request.Channel, unknownProvider, sentFailed)
		prometheusHerald.QueueJobsFailed.Inc()

		logging.Logger.Error("Job processing failed",
			zap.String("job_id", job.ID),
			zap.String("correlation_id", job.Request.CorrelationID),
			zap.Int("attempts", status.AttemptsMade),
			zap.String("error", err.Error()),
		)

		return err
	}

	status.State = StateCompleted
	status.Progress = progressDone
	status.Result = result
	p.saveStatus(ctx, status)
	p.countSent(ctx, job.Request.Channel, result.Provider, sentSuccess)
	prometheusHerald.QueueJobsCompleted.Inc()

	logging.Logger.Info("Job processed successfully",
		zap.String("job_id", job.ID),
		zap.String("correlation_id", result.CorrelationID),
		zap.String("provider", result.Provider),
		zap.Duration("duration", finishedAt.Sub(startedAt)),
	)

	return nil
}

func (p *Processor) saveStatus(ctx context.Context, status Status) {
	err := p.Statuses.Save(context.WithoutCancel(ctx), status)
	if err != nil {
		logging.Logger.Warn("Failed to save job status",
			zap.String("job_id", status.ID),
			zap.String("state", string(status.State)),
			zap.String("error", err.Error()),
		)
	}
}

func (p *Processor) countSent(ctx context.Context, channel message.Channel, provider, outcome string) {
	key := prometheusHerald.SentCounterKey(string(channel), provider, outcome)

	err := p.Counters.Incr(context.WithoutCancel(ctx), key).Err()
	if err != nil {
		logging.Logger.Warn("Failed to increment sent counter", zap.String("key", key), zap.String("error", err.Error()))
	}
}
