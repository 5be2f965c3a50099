// Command worker runs the asynq cleanup worker and its scheduler.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/dharsanguruparan/codedrop/internal/app"
	"github.com/dharsanguruparan/codedrop/internal/config"
	"github.com/dharsanguruparan/codedrop/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", "err", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init", "err", err)
	}
	defer a.Close()

	if err := a.RunWorker(ctx); err != nil {
		logger.Error("worker stopped", "err", err)
		a.Close()
		os.Exit(1)
	}
}
