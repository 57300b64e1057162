package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/logging"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Run serves handler on HTTP_PORT until ctx is canceled, then drains in-flight requests.
func Run(ctx context.Context, handler http.Handler) error {
	timeout := time.Duration(config.Conf.HTTPTimeout) * time.Second

	server := &http.Server{
		Addr:              ":" + config.Conf.HTTPPort,
		Handler:           handler,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       timeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		if err != nil {
			logging.Logger.Error("failed to shutdown http server", zap.String("error", err.Error()))
		}
	}()

	logging.Logger.Info("start http server", zap.String("port", config.Conf.HTTPPort))

	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
