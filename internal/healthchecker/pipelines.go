package healthchecker

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	prometheusHerald "git.mci.dev/mse/sre/phoenix/golang/herald/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/provider"
	"go.uber.org/zap"
)

type BreakerStateStore interface {
	SetBreakerState(ctx context.Context, channel message.Channel, provider, state string) error
}

var breakerGauge = map[circuitbreak.State]float64{
	circuitbreak.StateClosed:   0,
	circuitbreak.StateOpen:     1,
	circuitbreak.StateHalfOpen: 2,
}

// WatchBreakers mirrors provider breaker transitions into the status gauge and the
// per-pipeline breaker key until ctx is canceled.
func WatchBreakers(ctx context.Context, events <-chan circuitbreak.Event, store BreakerStateStore) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			RecordBreakerEvent(ctx, event, store)
		}
	}
}

func RecordBreakerEvent(ctx context.Context, event circuitbreak.Event, store BreakerStateStore) {
	prometheusHerald.CircuitBreakerStatus.WithLabelValues(event.Provider).Set(breakerGauge[event.To])

	for _, channel := range event.Channels {
		err := store.SetBreakerState(ctx, channel, event.Provider, string(event.To))
		if err != nil {
			logging.Logger.Warn("failed to persist breaker state",
				zap.String("provider", event.Provider),
				zap.String("channel", string(channel)),
				zap.String("error", err.Error()),
			)
		}
	}
}

// ProbeProviders asks every provider that supports it whether it is usable.
func ProbeProviders(ctx context.Context, providers provider.Registry) map[string]bool {
	results := make(map[string]bool)

	for _, name := range providers.Names() {
		p, _ := providers.Get(name)

		checker, ok := p.(provider.HealthChecker)
		if !ok {
			continue
		}

		healthy := checker.CheckHealth(ctx)
		results[name] = healthy

		gauge := 0.0
		if healthy {
			gauge = 1
		} else {
			logging.Logger.Warn("provider health probe failed", zap.String("provider", name))
		}

		prometheusHerald.ProviderHealthy.WithLabelValues(name).Set(gauge)
	}

	return results
}

func RunProviderProbe(ctx context.Context, providers provider.Registry, interval time.Duration) {
	ProbeProviders(ctx, providers)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ProbeProviders(ctx, providers)
		}
	}
}
