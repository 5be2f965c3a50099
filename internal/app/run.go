package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dharsanguruparan/codedrop/internal/api"
	"github.com/dharsanguruparan/codedrop/internal/janitor"
	"github.com/dharsanguruparan/codedrop/internal/queue"
	"github.com/dharsanguruparan/codedrop/internal/server"
	"github.com/dharsanguruparan/codedrop/internal/signing"
	"github.com/dharsanguruparan/codedrop/internal/worker"
)

// Handler builds the HTTP API for a.
func (a *App) Handler() *api.Server {
	return api.New(api.Deps{
		Service:      a.Service,
		Sweeper:      a.Sweeper,
		Presigner:    a.Presigner(),
		Guard:        signing.NewGuard(a.Config.CronSecret),
		Logger:       a.Logger,
		MaxFileBytes: a.Config.MaxFileBytes,
		PresignTTL:   a.Config.PresignTTL,
	})
}

// RunServer serves HTTP until ctx is cancelled. With SweepInProcess the
// janitor runs alongside it.
func (a *App) RunServer(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.Config.SweepInProcess {
		j, err := janitor.New(a.Sweeper, a.Config.SweepSpec, queue.DefaultReconcileSpec, a.Logger)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.Run(ctx)
		}()
	}
	err := server.New(a.Config.Address, a.Handler().Routes(), a.Logger).Serve(ctx)
	cancel()
	wg.Wait()
	return err
}

// RunWorker consumes cleanup tasks until ctx is cancelled. The queue lives in
// Redis, so a Redis URL is required even when metadata is stored elsewhere.
func (a *App) RunWorker(ctx context.Context) error {
	if a.Config.RedisURL == "" {
		return errors.New("CODEDROP_REDIS_URL is required to run the worker")
	}
	return worker.Run(ctx, worker.Options{
		RedisURL:      a.Config.RedisURL,
		Concurrency:   a.Config.WorkerConcurrency,
		SweepSpec:     a.Config.SweepSpec,
		ReconcileSpec: queue.DefaultReconcileSpec,
	}, a.Sweeper, a.Logger)
}
