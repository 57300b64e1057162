package delivery

import (
	"context"
	"errors"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidAttemptRecordSliceResult = errors.New("invalid result type, it should be slice of AttemptRecord")

type AttemptRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewAttemptRepository(dbConn *gorm.DB) *AttemptRepository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &AttemptRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

func (attemptRepository *AttemptRepository) Create(ctx context.Context, record *AttemptRecord) error {
	_, err := attemptRepository.CircuitBreaker.Execute(func() (any, error) {
		err := attemptRepository.DBConn.WithContext(ctx).Create(record).Error
		if err != nil {
			logging.Logger.Error("[Create] Failed to insert delivery attempt - may cause circuit breaker trip",
				zap.String("correlation_id", record.CorrelationID),
				zap.String("status", record.Status),
				zap.String("error", err.Error()),
				zap.Bool("is_context_error", ctx.Err() != nil),
			)

			return nil, err
		}

		return record, nil
	})

	return err
}

// FindByCorrelationID returns every attempt of a correlation id, oldest first.
func (attemptRepository *AttemptRepository) FindByCorrelationID(
	ctx context.Context,
	correlationID string,
) ([]AttemptRecord, error) {
	result, err := attemptRepository.CircuitBreaker.Execute(func() (any, error) {
		var records []AttemptRecord

		err := attemptRepository.DBConn.WithContext(ctx).
			Where("correlation_id = ?", correlationID).
			Order("id ASC").
			Find(&records).Error
		if err != nil {
			logging.Logger.Error("[FindByCorrelationID] Failed to fetch delivery attempts",
				zap.String("correlation_id", correlationID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return records, nil
	})
	if err != nil {
		return nil, err
	}

	records, ok := result.([]AttemptRecord)
	if !ok {
		return nil, ErrInvalidAttemptRecordSliceResult
	}

	return records, nil
}
