package main

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/herald"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	prometheusHerald "git.mci.dev/mse/sre/phoenix/golang/herald/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/redisstore"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	err := config.Validate()
	if err != nil {
		logging.Logger.Fatal("invalid configuration", zap.String("error", err.Error()))
	}

	// The sent counters live in redis and are shared by every worker, so only the
	// API process exports them.
	metricsClient, err := redisstore.NewClient()
	if err != nil {
		logging.Logger.Fatal("failed to connect metrics redis client", zap.String("error", err.Error()))
	}

	prometheus.MustRegister(prometheusHerald.NewSentCollector(metricsClient))

	go prometheusHerald.Run(context.Background())

	for {
		ctx, cancel := context.WithCancel(context.Background())

		app, err := herald.NewApp(cancel)
		if err != nil {
			logging.Logger.Fatal("failed to create herald app", zap.String("error", err.Error()))
		}

		err = app.Serve(ctx)
		if err != nil {
			panic(err)
		}

		<-ctx.Done()

		app.HealthCheckerService.Check()

		cancel()
	}
}
