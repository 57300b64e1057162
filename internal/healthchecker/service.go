package healthchecker

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"go.uber.org/zap"
)

// CheckFunc probes one infrastructure dependency; nil means healthy.
type CheckFunc func(ctx context.Context) error

// Healthchecker stops the app when an infrastructure breaker opens and then waits
// for that dependency to recover before the binary rebuilds the app.
type Healthchecker struct {
	CtxCancelFunc context.CancelFunc
	ErrorService  string
	Checks        map[string]CheckFunc
	Interval      time.Duration
}

func NewService(ctxCancelFunc context.CancelFunc, checks map[string]CheckFunc) *Healthchecker {
	return &Healthchecker{
		CtxCancelFunc: ctxCancelFunc,
		Checks:        checks,
		Interval:      time.Duration(config.Conf.HealthCheckerMonitorInterval) * time.Second,
	}
}

func (h *Healthchecker) TriggerError(service string) {
	logging.Logger.Error("service error happened", zap.String("service", service))
	h.ErrorService = service
	h.CtxCancelFunc()
}

// Monitor blocks until an infrastructure breaker opens or ctx ends.
func (h *Healthchecker) Monitor(ctx context.Context) {
	logging.Logger.Info("health checker monitor start successfully")

	select {
	case <-ctx.Done():
		return
	case serviceName := <-circuitbreak.CircuitBreakChan:
		logging.Logger.Info("circuit break happened", zap.String("service", serviceName))
		h.TriggerError(serviceName)
	}
}

// Check polls the failed service until it is healthy again. It returns at once when
// the app stopped for another reason.
func (h *Healthchecker) Check() {
	if h.ErrorService == "" {
		logging.Logger.Info("app stopped without a failed service")
		return
	}

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		<-ticker.C

		if h.checkErrorService() {
			h.ErrorService = ""
			return
		}
	}
}

func (h *Healthchecker) checkErrorService() bool {
	check, ok := h.Checks[h.ErrorService]
	if !ok {
		logging.Logger.Warn("Unknown service in checkErrorService", zap.String("service", h.ErrorService))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.Interval)
	defer cancel()

	err := check(ctx)
	if err != nil {
		logging.Logger.Warn("service still unhealthy",
			zap.String("service", h.ErrorService),
			zap.String("error", err.Error()),
		)

		return false
	}

	logging.Logger.Info(h.ErrorService + " service back healthy")

	return true
}
