package jobs

import (
	"context"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/kafka"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Sender interface {
	Publish(ctx context.Context, record kafka.Record) (kafka.Placement, error)
}

const (
	HeaderCorrelationID = "correlation_id"
	HeaderChannel       = "channel"
	HeaderProductCode   = "product_code"
)

// Publisher enqueues delivery requests on the work queue.
type Publisher struct {
	Sender   Sender
	Statuses *StatusStore
	Topic    string
	Now      func() time.Time
}

func NewPublisher(sender Sender, statuses *StatusStore) *Publisher {
	return &Publisher{
		Sender:   sender,
		Statuses: statuses,
		Topic:    config.Conf.KafkaDeliveryTopic,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish stores the queued status and sends the job keyed by correlation id. The
// status is written first so a fast worker never has its active state overwritten.
func (p *Publisher) Publish(ctx context.Context, req message.Request) (string, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	now := p.Now()
	job := Job{ID: NewID(req.CorrelationID, now), Request: req, CreatedAt: now}

	value, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}

	err = p.Statuses.Save(ctx, Status{ID: job.ID, State: StateQueued, Data: req, CreatedAt: now})
	if err != nil {
		return "", fmt.Errorf("save job status: %w", err)
	}

	placement, err := p.Sender.Publish(ctx, kafka.Record{
		Topic: p.Topic,
		Key:   []byte(req.CorrelationID),
		Value: value,
		Headers: map[string]string{
			HeaderCorrelationID: req.CorrelationID,
			HeaderChannel:       string(req.Channel),
			HeaderProductCode:   req.ProductCode,
		},
	})
	if err != nil {
		delErr := p.Statuses.Delete(ctx, job.ID)
		if delErr != nil {
			logging.Logger.Warn("Failed to drop status of unpublished job",
				zap.String("job_id", job.ID),
				zap.String("error", delErr.Error()),
			)
		}

		return "", fmt.Errorf("publish job: %w", err)
	}

	logging.Logger.Info("Message queued",
		zap.String("job_id", job.ID),
		zap.String("correlation_id", req.CorrelationID),
		zap.String("product_code", req.ProductCode),
		zap.Int32("partition", placement.Partition),
		zap.Int64("offset", placement.Offset),
	)

	return job.ID, nil
}
