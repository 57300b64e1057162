package api

import (
	"crypto/subtle"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/message"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/prometheus"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	RequestIDHeader     = "X-Request-ID"
	APIKeyHeader        = "X-API-Key"
	IdempotencyHeader   = "Idempotency-Key"

	correlationIDKey = "correlation_id"
)

// CorrelationID reads the caller's correlation id, falling back to X-Request-ID and
// then a fresh uuid, and echoes it on the response.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if id == "" {
			id = c.GetHeader(RequestIDHeader)
		}

		if id == "" {
			id = uuid.New().String()
		}

		c.Set(correlationIDKey, id)
		c.Header(CorrelationIDHeader, id)
		c.Next()
	}
}

func correlationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}

func APIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader(APIKeyHeader)
		if provided == "" {
			respondError(c, message.New(message.CodeUnauthorized, "API key is required", nil))
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
			respondError(c, message.New(message.CodeUnauthorized, "Invalid API key", nil))
			return
		}

		c.Next()
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logging.Logger.Error("Panic while serving request",
					zap.String("correlation_id", correlationID(c)),
					zap.String("panic", fmt.Sprint(r)),
					zap.ByteString("stack", debug.Stack()),
				)

				respondError(c, fmt.Errorf("panic: %v", r))
			}
		}()

		c.Next()
	}
}

// Logger logs every request and records its latency.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		prometheus.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).
			Observe(latency.Seconds())

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("correlation_id", correlationID(c)),
		}

		switch {
		case status >= 500:
			logging.Logger.Error("Request completed", fields...)
		case status >= 400:
			logging.Logger.Warn("Request completed", fields...)
		default:
			logging.Logger.Info("Request completed", fields...)
		}
	}
}
