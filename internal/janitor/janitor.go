// Package janitor runs the cleanup sweeper inside the server process on a cron
// schedule, for single-node deployments without an asynq worker.
package janitor

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/dharsanguruparan/codedrop/internal/sweeper"
)

// Runner is the cleanup work the janitor triggers.
type Runner interface {
	Sweep(ctx context.Context) (sweeper.Result, error)
	Reconcile(ctx context.Context) (sweeper.ReconcileResult, error)
}

// Janitor owns a cron scheduler. A tick that fires while the previous run is
// still going is skipped.
type Janitor struct {
	cron   *cron.Cron
	runner Runner
	logger *log.Logger
	ctx    context.Context
}

// New registers the sweep on sweepSpec and, when non-empty, reconcile on
// reconcileSpec. Specs use the standard five field syntax or descriptors
// such as "@every 1m".
func New(runner Runner, sweepSpec, reconcileSpec string, logger *log.Logger) (*Janitor, error) {
	logger = logger.With("component", "janitor")
	cl := cronLogger{l: logger}
	j := &Janitor{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		runner: runner,
		logger: logger,
		ctx:    context.Background(),
	}
	if _, err := j.cron.AddFunc(sweepSpec, j.sweep); err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", sweepSpec, err)
	}
	if reconcileSpec != "" {
		if _, err := j.cron.AddFunc(reconcileSpec, j.reconcile); err != nil {
			return nil, fmt.Errorf("parse reconcile schedule %q: %w", reconcileSpec, err)
		}
	}
	return j, nil
}

// Run starts the schedule and blocks until ctx is cancelled and the running
// job, if any, has finished.
func (j *Janitor) Run(ctx context.Context) {
	j.ctx = ctx
	j.cron.Start()
	j.logger.Info("janitor started", "entries", len(j.cron.Entries()))
	<-ctx.Done()
	<-j.cron.Stop().Done()
	j.logger.Info("janitor stopped")
}

func (j *Janitor) sweep() {
	if _, err := j.runner.Sweep(j.ctx); err != nil {
		j.logger.Error("scheduled sweep failed", "err", err)
	}
}

func (j *Janitor) reconcile() {
	if _, err := j.runner.Reconcile(j.ctx); err != nil {
		j.logger.Error("scheduled reconcile failed", "err", err)
	}
}

// cronLogger adapts charmbracelet/log to cron.Logger.
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
