package herald

import (
	"context"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/archive"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/catalog"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/deadletter"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/healthchecker"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/jobs"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/pipeline"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/redisstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Herald holds the infrastructure shared by the API and the worker.
type Herald struct {
	DBConn               *gorm.DB
	RedisClient          *redis.Client
	Catalog              *catalog.Catalog
	KafkaProducer        *kafka.Producer
	PipelineStore        *pipeline.Store
	DeadLetterStore      *deadletter.Store
	ArchiveRepository    *archive.Repository
	JobStatuses          *jobs.StatusStore
	JobPublisher         *jobs.Publisher
	DeadLetterService    *deadletter.DeadLetterService
	HealthCheckerService *healthchecker.Healthchecker
}

func NewApp(ctxCancelFunc context.CancelFunc) (*Herald, error) {
	logging.Logger.Info("[NewApp] Initializing herald application...")

	circuitbreak.Init()

	healthcheckerService := healthchecker.NewService(ctxCancelFunc, healthchecker.InfraChecks())

	c, err := catalog.Load(config.Conf.CatalogPath)
	if err != nil {
		logging.Logger.Error("[NewApp] Failed to load catalog", zap.String("error", err.Error()))
		return nil, err
	}

	logging.Logger.Info("[NewApp] Catalog loaded",
		zap.Int("products", len(c.Products())),
		zap.Int("pipelines", len(c.AllPipelines())),
	)

	dbConn, err := database.NewDatabase()
	if err != nil {
		return nil, err
	}

	redisClient, err := redisstore.NewClient()
	if err != nil {
		_ = database.Close(dbConn)
		return nil, err
	}

	kafkaProducer, err := kafka.NewProducer()
	if err != nil {
		_ = redisClient.Close()
		_ = database.Close(dbConn)

		return nil, err
	}

	jobStatuses := jobs.NewStatusStore(redisClient)
	jobPublisher := jobs.NewPublisher(kafkaProducer, jobStatuses)
	deadLetterStore := deadletter.NewStore(redisClient)
	archiveRepository := archive.NewRepository(dbConn)

	logging.Logger.Info("[NewApp] Herald application initialized")

	return &Herald{
		DBConn:               dbConn,
		RedisClient:          redisClient,
		Catalog:              c,
		KafkaProducer:        kafkaProducer,
		PipelineStore:        pipeline.NewStore(redisClient),
		DeadLetterStore:      deadLetterStore,
		ArchiveRepository:    archiveRepository,
		JobStatuses:          jobStatuses,
		JobPublisher:         jobPublisher,
		DeadLetterService:    deadletter.NewService(deadLetterStore, jobPublisher, archiveRepository),
		HealthCheckerService: healthcheckerService,
	}, nil
}

// Checks are the live dependency probes served by /health.
func (app *Herald) Checks() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		"redis": func(ctx context.Context) error {
			return app.RedisClient.Ping(ctx).Err()
		},
		"database": func(ctx context.Context) error {
			return database.Ping(ctx, app.DBConn)
		},
		"queue": func(context.Context) error {
			return kafka.Ping(config.Conf.KafkaDeliveryTopic)
		},
	}
}

func (app *Herald) Close() {
	err := app.KafkaProducer.Close()
	if err != nil {
		logging.Logger.Error("[Close] Failed to close producer", zap.String("error", err.Error()))
	}

	err = app.RedisClient.Close()
	if err != nil {
		logging.Logger.Error("[Close] Failed to close redis client", zap.String("error", err.Error()))
	}

	err = database.Close(app.DBConn)
	if err != nil {
		logging.Logger.Error("[Close] Failed to close database", zap.String("error", err.Error()))
	}

	logging.Logger.Info("[Close] ===== App shutdown complete =====")
}
