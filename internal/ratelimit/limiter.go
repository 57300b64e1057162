package ratelimit

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ProviderLimiter bounds concurrency and throughput into one provider regardless of
// the product that originated the call.
type ProviderLimiter struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func NewProviderLimiter(spec *catalog.RateLimitSpec) *ProviderLimiter {
	l := &ProviderLimiter{}
	if spec == nil {
		return l
	}

	if spec.MaxConcurrent > 0 {
		l.sem = semaphore.NewWeighted(spec.MaxConcurrent)
	}

	if spec.MinTime > 0 {
		l.limiter = rate.NewLimiter(rate.Every(spec.MinTime), 1)
	}

	return l
}

// Do waits for a slot, runs fn and releases the slot.
func (l *ProviderLimiter) Do(ctx context.Context, fn func() (any, error)) (any, error) {
	if l.sem != nil {
		err := l.sem.Acquire(ctx, 1)
		if err != nil {
			return nil, err
		}

		defer l.sem.Release(1)
	}

	if l.limiter != nil {
		err := l.limiter.Wait(ctx)
		if err != nil {
			return nil, err
		}
	}

	return fn()
}

// Limiters maps provider name to its limiter; built once at startup.
type Limiters map[string]*ProviderLimiter

func NewLimiters(pipelines []catalog.Pipeline) Limiters {
	limiters := make(Limiters, len(pipelines))
	for _, p := range pipelines {
		if _, ok := limiters[p.Provider]; ok {
			continue
		}

		limiters[p.Provider] = NewProviderLimiter(p.RateLimit)
	}

	return limiters
}

// Get returns the provider's limiter, or an unbounded one for unknown providers.
func (l Limiters) Get(provider string) *ProviderLimiter {
	limiter, ok := l[provider]
	if !ok {
		return &ProviderLimiter{}
	}

	return limiter
}
