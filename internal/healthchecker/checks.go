package healthchecker

import (
	"context"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/minio"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/redisstore"
)

const probeObjectKey = "healthcheck/probe.txt"

// InfraChecks returns the recovery probe of every infrastructure breaker.
func InfraChecks() map[string]CheckFunc {
	return map[string]CheckFunc{
		circuitbreak.DBService:            CheckDB,
		circuitbreak.RedisService:         CheckRedis,
		circuitbreak.MinioService:         CheckMinio,
		circuitbreak.KafkaProducerService: CheckKafka,
	}
}

func CheckDB(ctx context.Context) error {
	db, err := database.NewDatabase()
	if err != nil {
		return err
	}

	defer func() { _ = database.Close(db) }()

	return database.Ping(ctx, db)
}

func CheckRedis(context.Context) error {
	client, err := redisstore.NewClient()
	if err != nil {
		return err
	}

	return client.Close()
}

func CheckMinio(ctx context.Context) error {
	client, err := minio.NewMinioClient()
	if err != nil {
		return err
	}

	probe := fmt.Appendf(nil, "herald probe %s", time.Now().UTC().Format(time.RFC3339))

	_, err = client.Upload(ctx, probe, probeObjectKey, "text/plain")

	return err
}

func CheckKafka(context.Context) error {
	return kafka.Ping(config.Conf.KafkaDeliveryTopic)
}
