package herald

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/archive"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/delivery"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/healthchecker"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/jobs"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/minio"
	prometheusHerald "git.mci.dev/mse/sre/phoenix/golang/herald/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/provider"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/ratelimit"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/scheduler"
	"github.com/IBM/sarama"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Worker consumes delivery jobs and runs the background schedulers.
type Worker struct {
	*Herald

	KafkaConsumer   *kafka.Consumer
	WorkerPool      *ants.Pool
	Providers       provider.Registry
	Breakers        *circuitbreak.Registry
	DeliveryService *delivery.Service
	Processor       *jobs.Processor
	AutoRetry       *scheduler.AutoRetry
	Archival        *scheduler.Archival
	BalanceCheck    *scheduler.BalanceCheck
}

func NewWorker(ctx context.Context, app *Herald) (*Worker, error) {
	providers, err := initializeProviders(ctx)
	if err != nil {
		return nil, err
	}

	breakers := circuitbreak.NewRegistry(app.Catalog.AllPipelines(), circuitbreak.Settings{
		FailureRatio: config.Conf.BreakerFailureRatio,
		Window:       time.Duration(config.Conf.BreakerWindowSeconds) * time.Second,
	})

	deliveryService := delivery.NewService(
		app.Catalog,
		ratelimit.NewQuotaGate(app.RedisClient),
		app.PipelineStore,
		breakers,
		providers,
		delivery.NewAttemptRepository(app.DBConn),
		app.DeadLetterStore,
	)

	logging.Logger.Info("[NewWorker] Creating worker pool", zap.Int("pool_size", config.Conf.PoolSize))

	workerPool, err := ants.NewPool(config.Conf.PoolSize, ants.WithPreAlloc(true))
	if err != nil {
		logging.Logger.Error("[NewWorker] Failed to create worker pool", zap.String("error", err.Error()))
		return nil, err
	}

	archival, err := initializeArchival(app)
	if err != nil {
		workerPool.Release()
		return nil, err
	}

	kafkaConsumer, err := kafka.NewConsumer()
	if err != nil {
		logging.Logger.Error("[NewWorker] Failed to create Kafka consumer", zap.String("error", err.Error()))
		workerPool.Release()

		return nil, err
	}

	logging.Logger.Info("[NewWorker] Worker initialized", zap.Strings("providers", providers.Names()))

	return &Worker{
		Herald:          app,
		KafkaConsumer:   kafkaConsumer,
		WorkerPool:      workerPool,
		Providers:       providers,
		Breakers:        breakers,
		DeliveryService: deliveryService,
		Processor:       jobs.NewProcessor(deliveryService, app.JobStatuses, app.RedisClient),
		AutoRetry:       scheduler.NewAutoRetry(app.DeadLetterStore, app.DeadLetterService, workerPool),
		Archival:        archival,
		BalanceCheck:    scheduler.NewBalanceCheck(app.Catalog, providers, app.PipelineStore),
	}, nil
}

func initializeProviders(ctx context.Context) (provider.Registry, error) {
	ses, err := provider.NewSES(ctx)
	if err != nil {
		logging.Logger.Error("[NewWorker] Failed to create SES client", zap.String("error", err.Error()))
		return nil, err
	}

	return provider.NewRegistry(provider.NewFast2SMS(), ses, provider.NewGmail()), nil
}

// initializeArchival attaches the object storage export only when it is enabled.
func initializeArchival(app *Herald) (*scheduler.Archival, error) {
	archival := scheduler.NewArchival(app.DeadLetterStore, app.ArchiveRepository, nil)

	if !config.Conf.ArchiveExportEnabled {
		return archival, nil
	}

	minioClient, err := minio.NewMinioClient()
	if err != nil {
		return nil, err
	}

	archival.Exporter = archive.NewExporter(minioClient)

	return archival, nil
}

func (w *Worker) Run(ctx context.Context) error {
	logging.Logger.Info("[Run] Starting worker goroutines...")

	go w.HealthCheckerService.Monitor(ctx)
	go healthchecker.WatchBreakers(ctx, w.Breakers.Events(), w.PipelineStore)
	go healthchecker.RunProviderProbe(ctx, w.Providers,
		time.Duration(config.Conf.HealthCheckerMonitorInterval)*time.Second)
	go w.AutoRetry.Run(ctx)
	go w.Archival.Run(ctx)
	go w.BalanceCheck.Run(ctx)

	logging.Logger.Info("[Run] Starting Kafka consumer (BLOCKING)",
		zap.String("topic", config.Conf.KafkaDeliveryTopic),
		zap.Int("worker_pool_size", config.Conf.PoolSize),
	)

	w.KafkaConsumer.Consume(ctx, config.Conf.KafkaDeliveryTopic, w.MessageHandler)

	logging.Logger.Warn("[Run] Kafka consumer returned, beginning shutdown...")

	w.shutdown()

	return nil
}

// MessageHandler runs the record on the pool and waits for it, so the offset is
// only committed once the job reached a final state. The pool bounds how many
// partitions are processed at once.
func (w *Worker) MessageHandler(ctx context.Context, msg *sarama.ConsumerMessage) error {
	done := make(chan error, 1)

	err := w.WorkerPool.Submit(func() {
		var jobErr error
		defer func() { done <- jobErr }()

		jobErr = w.processJob(ctx, msg)
	})
	if err != nil {
		logging.Logger.Error("failed to submit job to ants pool", zap.String("error", err.Error()))
		return err
	}

	return <-done
}

// processJob returns an error only when the job must be consumed again.
func (w *Worker) processJob(ctx context.Context, msg *sarama.ConsumerMessage) error {
	defer w.handlePanic(msg)

	job, err := jobs.Decode(msg.Value)
	if err != nil {
		logging.Logger.Error("failed to decode delivery job",
			zap.String("error", err.Error()),
			zap.String("correlation_id", kafka.Header(msg, jobs.HeaderCorrelationID)),
			zap.String("channel", kafka.Header(msg, jobs.HeaderChannel)),
			zap.Int64("offset", msg.Offset),
		)

		return nil
	}

	channel := string(job.Request.Channel)

	timer := prometheus.NewTimer(prometheusHerald.ProcessJobDuration.WithLabelValues(channel))
	defer timer.ObserveDuration()

	recordKafkaLatency(job.CreatedAt, channel)

	err = w.Processor.Process(ctx, job)
	if errors.Is(err, jobs.ErrJobInterrupted) {
		return err
	}

	if err != nil {
		logging.Logger.Warn("delivery job failed",
			zap.String("job_id", job.ID),
			zap.String("correlation_id", job.Request.CorrelationID),
			zap.String("error", err.Error()),
		)

		return nil
	}

	logging.Logger.Info("delivery job processed successfully",
		zap.String("job_id", job.ID),
		zap.String("correlation_id", job.Request.CorrelationID),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	return nil
}

func recordKafkaLatency(createdAt time.Time, channel string) {
	if createdAt.IsZero() {
		return
	}

	latency := time.Since(createdAt).Seconds()
	prometheusHerald.KafkaMessageLatency.WithLabelValues(channel).Observe(latency)
}

func (w *Worker) handlePanic(msg *sarama.ConsumerMessage) {
	if r := recover(); r != nil {
		logging.Logger.Error("panic in delivery worker",
			zap.ByteString("key", msg.Key),
			zap.Any("recover", r),
		)
	}
}

func (w *Worker) shutdown() {
	err := w.KafkaConsumer.Close()
	if err != nil {
		logging.Logger.Error("[Run] Failed to close consumer", zap.String("error", err.Error()))
	}

	logging.Logger.Info("[Run] Releasing worker pool...",
		zap.Int("running_workers", w.WorkerPool.Running()),
		zap.Int("free_workers", w.WorkerPool.Free()),
	)
	w.WorkerPool.Release()

	w.Close()
}
