package archive

import (
	"context"
	"errors"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

var (
	ErrInvalidArchivedMessageResult      = errors.New("invalid result type, it should be pointer to ArchivedMessage")
	ErrInvalidArchivedMessageSliceResult = errors.New("invalid result type, it should be slice of ArchivedMessage")
	ErrInvalidStatisticSliceResult       = errors.New("invalid result type, it should be slice of Statistic")
	ErrInvalidDeleteResult               = errors.New("invalid result type, it should be int64")
)

type Repository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewRepository(dbConn *gorm.DB) *Repository {
	cbSettings := database.GetCircuitBreakerSettings()

	return &Repository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

func (archiveRepository *Repository) Create(ctx context.Context, msg *ArchivedMessage) error {
	_, err := archiveRepository.CircuitBreaker.Execute(func() (any, error) {
		err := archiveRepository.DBConn.WithContext(ctx).Create(msg).Error
		if err != nil {
			logging.Logger.Error("[Create] Failed to archive message - may cause circuit breaker trip",
				zap.String("correlation_id", msg.CorrelationID),
				zap.String("error", err.Error()),
				zap.Bool("is_context_error", ctx.Err() != nil),
			)

			return nil, err
		}

		return msg, nil
	})

	return err
}

// FindAll returns archived messages, newest archived first.
func (archiveRepository *Repository) FindAll(ctx context.Context, query Query) ([]ArchivedMessage, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	limit = min(limit, maxQueryLimit)

	result, err := archiveRepository.CircuitBreaker.Execute(func() (any, error) {
		var messages []ArchivedMessage

		tx := archiveRepository.DBConn.WithContext(ctx).Model(&ArchivedMessage{})

		if query.Channel != "" {
			tx = tx.Where("channel = ?", query.Channel)
		}

		if query.ProductCode != "" {
			tx = tx.Where("product_code = ?", query.ProductCode)
		}

		if query.StartDate != nil {
			tx = tx.Where("archived_at >= ?", *query.StartDate)
		}

		if query.EndDate != nil {
			tx = tx.Where("archived_at <= ?", *query.EndDate)
		}

		err := tx.Order("archived_at DESC").
			Limit(limit).
			Offset(max(query.Offset, 0)).
			Find(&messages).Error
		if err != nil {
			logging.Logger.Error("[FindAll] Failed to query archived messages",
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return messages, nil
	})
	if err != nil {
		return nil, err
	}

	messages, ok := result.([]ArchivedMessage)
	if !ok {
		return nil, ErrInvalidArchivedMessageSliceResult
	}

	return messages, nil
}

// FindByCorrelationID returns the most recent archived row, or nil when there is none.
// A missing row is not an error so lookups do not count against the breaker.
func (archiveRepository *Repository) FindByCorrelationID(
	ctx context.Context,
	correlationID string,
) (*ArchivedMessage, error) {
	result, err := archiveRepository.CircuitBreaker.Execute(func() (any, error) {
		var messages []ArchivedMessage

		err := archiveRepository.DBConn.WithContext(ctx).
			Where("correlation_id = ?", correlationID).
			Order("archived_at DESC").
			Limit(1).
			Find(&messages).Error
		if err != nil {
			logging.Logger.Error("[FindByCorrelationID] Failed to fetch archived message",
				zap.String("correlation_id", correlationID),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		if len(messages) == 0 {
			return (*ArchivedMessage)(nil), nil
		}

		return &messages[0], nil
	})
	if err != nil {
		return nil, err
	}

	msg, ok := result.(*ArchivedMessage)
	if !ok {
		return nil, ErrInvalidArchivedMessageResult
	}

	return msg, nil
}

// Statistics groups rows archived since the given time by channel and product.
func (archiveRepository *Repository) Statistics(ctx context.Context, since time.Time) ([]Statistic, error) {
	result, err := archiveRepository.CircuitBreaker.Execute(func() (any, error) {
		var stats []Statistic

		err := archiveRepository.DBConn.WithContext(ctx).
			Model(&ArchivedMessage{}).
			Select("channel, product_code, COUNT(*) AS total_failures, " +
				"AVG(failure_count) AS avg_retries, COUNT(DISTINCT DATE(archived_at)) AS days_with_failures").
			Where("archived_at >= ?", since).
			Group("channel, product_code").
			Order("total_failures DESC").
			Scan(&stats).Error
		if err != nil {
			logging.Logger.Error("[Statistics] Failed to aggregate archived messages",
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return stats, nil
	})
	if err != nil {
		return nil, err
	}

	stats, ok := result.([]Statistic)
	if !ok {
		return nil, ErrInvalidStatisticSliceResult
	}

	return stats, nil
}

func (archiveRepository *Repository) FindOlderThan(ctx context.Context, cutoff time.Time) ([]ArchivedMessage, error) {
	result, err := archiveRepository.CircuitBreaker.Execute(func() (any, error) {
		var messages []ArchivedMessage

		err := archiveRepository.DBConn.WithContext(ctx).
			Where("archived_at < ?", cutoff).
			Order("archived_at ASC").
			Find(&messages).Error
		if err != nil {
			logging.Logger.Error("[FindOlderThan] Failed to fetch expired archived messages",
				zap.Time("cutoff", cutoff),
				zap.String("error", err.Error()),
			)

			return nil, err
		}

		return messages, nil
	})
	if err != nil {
		return nil, err
	}

	messages, ok := result.([]ArchivedMessage)
	if !ok {
		return nil, ErrInvalidArchivedMessageSliceResult
	}

	return messages, nil
}

func (archiveRepository *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := archiveRepository.CircuitBreaker.Execute(func() (any, error) {
		tx := archiveRepository.DBConn.WithContext(ctx).
			Where("archived_at < ?", cutoff).
			Delete(&ArchivedMessage{})
		if tx.Error != nil {
			logging.Logger.Error("[DeleteOlderThan] Failed to prune archived messages",
				zap.Time("cutoff", cutoff),
				zap.String("error", tx.Error.Error()),
			)

			return nil, tx.Error
		}

		return tx.RowsAffected, nil
	})
	if err != nil {
		return 0, err
	}

	deleted, ok := result.(int64)
	if !ok {
		return 0, ErrInvalidDeleteResult
	}

	return deleted, nil
}
