package logging

import (
	"os"

	"git.mci.dev/mse/sre/phoenix/golang/herald/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger

func init() {
	var err error

	Logger, err = getDoubleLogger()
	if err != nil {
		zap.NewExample().Fatal("Could not initialize logger", zap.String("error", err.Error()))
	}
}

// getDoubleLogger tees a console core on stdout with a JSON file core when LOG_FILE_PATH is set.
func getDoubleLogger() (*zap.Logger, error) {
	productionEncoderConfig := zap.NewProductionEncoderConfig()
	productionEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	developmentEncoderConfig := zap.NewDevelopmentEncoderConfig()
	developmentEncoderConfig.ConsoleSeparator = "  "
	developmentEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	developmentEncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	level, err := zapcore.ParseLevel(config.Conf.LogLevel)
	if err != nil {
		zap.NewExample().Info("Invalid log level, using info level")

		level = zapcore.InfoLevel
	}

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(developmentEncoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	if config.Conf.LogFilePath == "" {
		return zap.New(consoleCore, zap.AddCaller()), nil
	}

	zapConfig := &zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       false,
		DisableCaller:     false,
		DisableStacktrace: false,
		Encoding:          "json",
		EncoderConfig:     productionEncoderConfig,
		OutputPaths:       []string{config.Conf.LogFilePath},
	}

	fileLogger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	core := zapcore.NewTee(fileLogger.Core(), consoleCore)

	return zap.New(core, zap.AddCaller()), nil
}
