package circuitbreak

import (
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"go.uber.org/zap"
)

// CircuitBreakChan carries the names of infrastructure services whose breaker opened.
var CircuitBreakChan chan string

const (
	DBService            = "database"
	RedisService         = "redis"
	MinioService         = "minio"
	KafkaProducerService = "kafka_producer"
)

const infraEventBuffer = 16

func Init() {
	CircuitBreakChan = make(chan string, infraEventBuffer)
}

// TriggerError reports an opened infrastructure breaker. It never blocks the caller.
func TriggerError(service string) {
	if CircuitBreakChan == nil {
		logging.Logger.Warn("circuit break channel is not initialized", zap.String("service", service))
		return
	}

	select {
	case CircuitBreakChan <- service:
	default:
		logging.Logger.Warn("circuit break channel is full, dropping event", zap.String("service", service))
	}
}
