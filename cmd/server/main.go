// Command server runs the codedrop HTTP API.
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
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("load config", "err", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init", "err", err)
	}
	defer a.Close()

	if err := a.RunServer(ctx); err != nil {
		logger.Error("server stopped", "err", err)
		a.Close()
		os.Exit(1)
	}
}
