package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"manual-tutor/internal/app"
	"manual-tutor/internal/config"
	"manual-tutor/internal/console"
	"manual-tutor/internal/logging"
)

func main() {
	if err := run(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	deps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	c, err := console.New(deps.Service, os.Stdin, os.Stdout, console.Options{
		SessionID: sessionID,
		Prompt:    isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create console: %w", err)
	}
	return c.Run(ctx)
}
