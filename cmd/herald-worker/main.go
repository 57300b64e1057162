package main

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/herald"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/prometheus"
	"go.uber.org/zap"
)

func main() {
	err := config.Validate()
	if err != nil {
		logging.Logger.Fatal("invalid configuration", zap.String("error", err.Error()))
	}

	go prometheus.Run(context.Background())

	for {
		ctx, cancel := context.WithCancel(context.Background())

		app, err := herald.NewApp(cancel)
		if err != nil {
			logging.Logger.Fatal("failed to create herald app", zap.String("error", err.Error()))
		}

		worker, err := herald.NewWorker(ctx, app)
		if err != nil {
			app.Close()
			logging.Logger.Fatal("failed to create herald worker", zap.String("error", err.Error()))
		}

		err = worker.Run(ctx)
		if err != nil {
			panic(err)
		}

		<-ctx.Done()

		app.HealthCheckerService.Check()

		cancel()
	}
}
