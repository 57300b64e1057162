package api

import (
	"context"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthCheckTimeout = 5 * time.Second

type HealthReport struct {
	Status    string          `json:"status"`
	Checks    map[string]bool `json:"checks"`
	Timestamp time.Time       `json:"timestamp"`
	Uptime    float64         `json:"uptime"`
}

type HealthHandler struct {
	Checks    map[string]func(ctx context.Context) error
	StartedAt time.Time
}

func NewHealthHandler(checks map[string]func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{Checks: checks, StartedAt: time.Now()}
}

func (h *HealthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", h.Health)
}

// Health runs every dependency check; any failure reports the service as degraded.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	report := HealthReport{
		Status:    "healthy",
		Checks:    make(map[string]bool, len(h.Checks)),
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.StartedAt).Seconds(),
	}

	for name, check := range h.Checks {
		err := check(ctx)
		if err != nil {
			logging.Logger.Warn("Health check failed", zap.String("check", name), zap.String("error", err.Error()))
			report.Status = "degraded"
		}

		report.Checks[name] = err == nil
	}

	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, report)
}
