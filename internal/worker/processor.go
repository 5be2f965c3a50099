// Package worker runs cleanup tasks pulled from the asynq queue, together with
// the scheduler that enqueues them periodically.
package worker

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/codedrop/internal/queue"
	"github.com/dharsanguruparan/codedrop/internal/sweeper"
)

// Runner is the cleanup work a Processor delegates to.
type Runner interface {
	Sweep(ctx context.Context) (sweeper.Result, error)
	Reconcile(ctx context.Context) (sweeper.ReconcileResult, error)
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	runner Runner
	logger *log.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner Runner, logger *log.Logger) *Processor {
	return &Processor{runner: runner, logger: logger.With("component", "worker")}
}

// Handler registers the cleanup task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.SweepTask, p.handleSweep)
	mux.HandleFunc(queue.ReconcileTask, p.handleReconcile)
	return mux
}

func (p *Processor) handleSweep(ctx context.Context, _ *asynq.Task) error {
	res, err := p.runner.Sweep(ctx)
	if err != nil {
		p.logger.Error("sweep failed", "err", err)
		return fmt.Errorf("sweep: %w", err)
	}
	p.logger.Debug("sweep done", "deleted", res.DeletedCount, "took", res.Duration)
	return nil
}

func (p *Processor) handleReconcile(ctx context.Context, _ *asynq.Task) error {
	res, err := p.runner.Reconcile(ctx)
	if err != nil {
		p.logger.Error("reconcile failed", "err", err)
		return fmt.Errorf("reconcile: %w", err)
	}
	p.logger.Debug("reconcile done", "scanned", res.Scanned, "deleted", len(res.DeletedKeys))
	return nil
}

// Options configures Run.
type Options struct {
	RedisURL      string
	Concurrency   int
	SweepSpec     string
	ReconcileSpec string
}

// Run serves cleanup tasks and registers the periodic schedule until ctx is
// cancelled.
func Run(ctx context.Context, opts Options, runner Runner, logger *log.Logger) error {
	redisOpt, err := asynq.ParseRedisURI(opts.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	qlog := queue.NewLogger(logger)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: opts.Concurrency,
		Logger:      qlog,
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: qlog})
	if err := queue.RegisterPeriodic(scheduler, opts.SweepSpec, opts.ReconcileSpec); err != nil {
		return err
	}

	processor := NewProcessor(runner, logger)
	if err := srv.Start(processor.Handler()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		srv.Shutdown()
		return fmt.Errorf("start scheduler: %w", err)
	}
	logger.Info("worker started", "concurrency", opts.Concurrency, "sweep", opts.SweepSpec)

	<-ctx.Done()
	scheduler.Shutdown()
	srv.Shutdown()
	logger.Info("worker stopped")
	return nil
}
