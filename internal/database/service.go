package database

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// NewDatabase opens the Postgres pool holding the delivery log and the archive.
func NewDatabase() (*gorm.DB, error) {
	database, err := gorm.Open(postgres.Open(GetDSN()), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		logging.Logger.Error("Failed to connect to Postgres", zap.String("error", err.Error()))
		return nil, err
	}

	sqlDB, err := database.DB()
	if err != nil {
		logging.Logger.Error("Failed to get sql.DB from GORM", zap.String("error", err.Error()))
		return nil, err
	}

	sqlDB.SetMaxOpenConns(config.Conf.PostgresMaxOpenConns)
	sqlDB.SetMaxIdleConns(config.Conf.PostgresMaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(config.Conf.PostgresConnMaxLifetime) * time.Minute)

	err = sqlDB.Ping()
	if err != nil {
		logging.Logger.Error("Failed to ping Postgres database", zap.String("error", err.Error()))
		_ = sqlDB.Close()

		return nil, err
	}

	logging.Logger.Info("Successfully connected to Postgres",
		zap.String("host", config.Conf.PostgresHost),
		zap.String("database", config.Conf.PostgresDatabase),
		zap.Int("max_open_conns", config.Conf.PostgresMaxOpenConns),
	)

	return database, nil
}

func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return sqlDB.PingContext(ctx)
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func GetDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		config.Conf.PostgresHost,
		config.Conf.PostgresUsername,
		config.Conf.PostgresPassword,
		config.Conf.PostgresDatabase,
		config.Conf.PostgresPort,
		config.Conf.PostgresSSLMode,
	)
}

// GetURL is the migrate-style connection URL.
func GetURL() string {
	dbURL := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(config.Conf.PostgresUsername, config.Conf.PostgresPassword),
		Host:   fmt.Sprintf("%s:%s", config.Conf.PostgresHost, config.Conf.PostgresPort),
		Path:   config.Conf.PostgresDatabase,
	}

	queries := url.Values{}
	queries.Add("sslmode", config.Conf.PostgresSSLMode)
	dbURL.RawQuery = queries.Encode()

	return dbURL.String()
}

// GetCircuitBreakerSettings is shared by the repositories; an open breaker stops the app
// until Postgres answers again.
func GetCircuitBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:     circuitbreak.DBService,
		Interval: time.Duration(config.Conf.DBIntervalCB) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			willTrip := counts.ConsecutiveFailures >= config.Conf.DBConsecutiveFailuresCB

			if willTrip {
				logging.Logger.Error("Database circuit breaker about to trip",
					zap.Uint32("total_requests", counts.Requests),
					zap.Uint32("total_failures", counts.TotalFailures),
					zap.Uint32("consecutive_failures", counts.ConsecutiveFailures),
					zap.Uint32("threshold", config.Conf.DBConsecutiveFailuresCB),
				)
			}

			return willTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger.Error("Database circuit breaker state changed",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			if to == gobreaker.StateOpen {
				circuitbreak.TriggerError(circuitbreak.DBService)
			}
		},
	}
}
