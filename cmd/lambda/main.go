package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"manual-tutor/handler"
	"manual-tutor/internal/app"
	"manual-tutor/internal/config"
	"manual-tutor/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Logging.Level, logging.FormatJSON)
	slog.SetDefault(logger)

	if cfg.AWS.StateTable == "" {
		logger.Error("required environment variable is not set", "key", "STATE_TABLE")
		os.Exit(1)
	}

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build session service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(deps.Service)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.WithLogger(logger).WithRequestTimeout(cfg.HTTP.RequestTimeout).Handle)
}
