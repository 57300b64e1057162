package scheduler

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/provider"
	"go.uber.org/zap"
)

type BalanceStore interface {
	UpdateSMSBalance(ctx context.Context, provider string, balance float64) error
}

// BalanceCheck refreshes SMS balances once a day. A failed check stores a zero
// balance, which takes the pipeline out of rotation until the next success.
type BalanceCheck struct {
	Catalog   *catalog.Catalog
	Providers provider.Registry
	Store     BalanceStore
	Hour      int
	Now       func() time.Time
}

func NewBalanceCheck(c *catalog.Catalog, providers provider.Registry, store BalanceStore) *BalanceCheck {
	return &BalanceCheck{
		Catalog:   c,
		Providers: providers,
		Store:     store,
		Hour:      config.Conf.BalanceCheckHourUTC,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

func (b *BalanceCheck) Run(ctx context.Context) {
	logging.Logger.Info("SMS balance check scheduled", zap.Int("hour_utc", b.Hour))

	runDaily(ctx, b.Hour, b.Now, b.RunOnce)
}

func (b *BalanceCheck) RunOnce(ctx context.Context) {
	logging.Logger.Info("Starting daily SMS balance check")

	pipelines, err := b.Catalog.Pipelines(message.ChannelSMS)
	if err != nil {
		logging.Logger.Warn("No SMS pipelines configured", zap.String("error", err.Error()))
		return
	}

	for _, p := range pipelines {
		prov, ok := b.Providers.Get(p.Provider)
		if !ok {
			continue
		}

		checker, ok := prov.(provider.BalanceChecker)
		if !ok {
			logging.Logger.Warn("Provider does not support balance check", zap.String("provider", p.Provider))
			continue
		}

		balance, err := checker.CheckBalance(ctx)
		if err != nil {
			logging.Logger.Error("Failed to check SMS balance",
				zap.String("provider", p.Provider),
				zap.String("error", err.Error()),
			)

			balance = 0
		} else {
			logging.Logger.Info("SMS balance checked", zap.String("provider", p.Provider), zap.Float64("balance", balance))
		}

		err = b.Store.UpdateSMSBalance(ctx, p.Provider, balance)
		if err != nil {
			logging.Logger.Error("Failed to store SMS balance",
				zap.String("provider", p.Provider),
				zap.String("error", err.Error()),
			)
		}
	}

	logging.Logger.Info("Daily SMS balance check completed")
}
