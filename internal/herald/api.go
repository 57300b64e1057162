package herald

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/api"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (app *Herald) Router() *gin.Engine {
	return api.NewRouter(config.Conf.APIKey,
		api.NewHealthHandler(app.Checks()),
		&api.MessageHandler{
			Catalog:     app.Catalog,
			Publisher:   app.JobPublisher,
			Jobs:        app.JobStatuses,
			Pipelines:   app.PipelineStore,
			Idempotency: api.NewIdempotencyStore(app.RedisClient),
		},
		&api.CatalogHandler{Catalog: app.Catalog},
		&api.DeadLetterHandler{Service: app.DeadLetterService},
		&api.ArchiveHandler{Archive: app.ArchiveRepository},
	)
}

// Serve runs the HTTP API until ctx is canceled, then releases the shared infrastructure.
func (app *Herald) Serve(ctx context.Context) error {
	logging.Logger.Info("[Serve] Starting health checker monitor goroutine")

	go app.HealthCheckerService.Monitor(ctx)

	err := api.Run(ctx, app.Router())
	if err != nil {
		logging.Logger.Error("[Serve] HTTP server failed", zap.String("error", err.Error()))
	}

	app.Close()

	return err
}
