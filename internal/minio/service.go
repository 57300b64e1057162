package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	prometheusHerald "git.mci.dev/mse/sre/phoenix/golang/herald/internal/prometheus"
	"github.com/avast/retry-go"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var ErrConvertToStringURL = errors.New("failed to convert result url to string")

// ObjectPutter is the subset of *minio.Client used for uploads.
type ObjectPutter interface {
	PutObject(
		ctx context.Context,
		bucketName, objectName string,
		reader io.Reader,
		objectSize int64,
		opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
}

type MinioClient struct {
	Client         ObjectPutter
	CircuitBreaker *gobreaker.CircuitBreaker[any]
	BucketName     string
	PathPrefix     string
	Timeout        time.Duration
}

func NewMinioClient() (*MinioClient, error) {
	client, err := minio.New(config.Conf.MinioEndpointURL, &minio.Options{
		Creds:  credentials.NewStaticV4(config.Conf.MinioAccessKey, config.Conf.MinioSecretKey, ""),
		Secure: config.Conf.MinioSecure,
	})
	if err != nil {
		logging.Logger.Error("Failed to initialize MinIO client", zap.String("error", err.Error()))
		return nil, err
	}

	logging.Logger.Info("Successfully connected to MinIO",
		zap.String("endpoint", config.Conf.MinioEndpointURL),
		zap.String("bucket", config.Conf.MinioBucketName),
	)

	return NewMinioClientWith(client, config.Conf.MinioBucketName, config.Conf.MinioPathPrefix), nil
}

func NewMinioClientWith(client ObjectPutter, bucketName, pathPrefix string) *MinioClient {
	return &MinioClient{
		Client:         client,
		CircuitBreaker: newCircuitBreaker(),
		BucketName:     bucketName,
		PathPrefix:     pathPrefix,
		Timeout:        time.Duration(config.Conf.MinioTimeout) * time.Second,
	}
}

func newCircuitBreaker() *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		Name:     "minio",
		Interval: time.Duration(config.Conf.MinioIntervalCB) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.Conf.MinioConsecutiveFailuresCB
		},
		OnStateChange: func(name string, fromState, toState gobreaker.State) {
			logging.Logger.Warn(
				"Circuit state changed",
				zap.String("service", name),
				zap.String("from", fromState.String()),
				zap.String("to", toState.String()),
			)

			if toState == gobreaker.StateOpen {
				circuitbreak.TriggerError(circuitbreak.MinioService)
			}
		},
	}

	return gobreaker.NewCircuitBreaker[any](settings)
}

// Upload stores data under the path prefix with retry and returns the object URL.
func (m *MinioClient) Upload(ctx context.Context, data []byte, objectKey, contentType string) (string, error) {
	logging.Logger.Info("Starting MinIO upload",
		zap.String("object_key", objectKey),
		zap.Int("size", len(data)),
	)

	url, err := m.CircuitBreaker.Execute(func() (any, error) {
		return m.doUpload(ctx, data, objectKey, contentType)
	})
	if err != nil {
		return "", err
	}

	urlStr, ok := url.(string)
	if !ok {
		return "", ErrConvertToStringURL
	}

	return urlStr, nil
}

func (m *MinioClient) doUpload(ctx context.Context, data []byte, objectKey, contentType string) (string, error) {
	timer := prometheus.NewTimer(prometheusHerald.MinioOperationDuration.WithLabelValues("upload"))
	defer timer.ObserveDuration()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	err := retry.Do(
		func() error {
			_, err := m.Client.PutObject(
				ctxWithTimeout,
				m.BucketName,
				m.key(objectKey),
				bytes.NewReader(data),
				int64(len(data)),
				minio.PutObjectOptions{ContentType: contentType},
			)
			if err != nil {
				logging.Logger.Error("MinIO upload failed",
					zap.String("object_key", objectKey),
					zap.String("error", err.Error()),
				)

				return err
			}

			return nil
		},
		retry.Context(ctxWithTimeout),
		retry.Attempts(max(config.Conf.MinioMaxRetryAttempts, 1)),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(time.Duration(config.Conf.MinioRetryBackoffMinSeconds)*time.Second),
		retry.MaxDelay(time.Duration(config.Conf.MinioRetryBackoffMaxSeconds)*time.Second),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		logging.Logger.Error("MinIO upload failed after all retry attempts",
			zap.String("object_key", objectKey),
			zap.String("error", err.Error()),
		)

		return "", err
	}

	url := fmt.Sprintf("%s/%s/%s", config.Conf.MinioEndpointURL, m.BucketName, m.key(objectKey))
	logging.Logger.Info("MinIO upload completed successfully",
		zap.String("object_key", objectKey),
		zap.String("url", url),
	)

	return url, nil
}

func (m *MinioClient) key(objectKey string) string {
	return path.Join(m.PathPrefix, objectKey)
}
