// Package queue defines the asynq tasks that drive cleanup outside the HTTP
// path: a periodic sweep of the cleanup schedule and a slower reconcile pass.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// SweepTask drains the due part of the cleanup schedule.
	SweepTask = "cleanup:sweep"
	// ReconcileTask deletes uploads no live record can reference.
	ReconcileTask = "cleanup:reconcile"

	// DefaultReconcileSpec is how often the scheduler enqueues a reconcile.
	DefaultReconcileSpec = "@every 1h"
)

// NewSweepTask builds a sweep task. Unique keeps a slow sweep from piling up
// duplicates behind it.
func NewSweepTask() *asynq.Task {
	return asynq.NewTask(SweepTask, nil,
		asynq.MaxRetry(3),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(time.Minute),
	)
}

// NewReconcileTask builds a reconcile task.
func NewReconcileTask() *asynq.Task {
	return asynq.NewTask(ReconcileTask, nil,
		asynq.MaxRetry(1),
		asynq.Timeout(30*time.Minute),
		asynq.Unique(30*time.Minute),
	)
}

// EnqueueSweep requests a sweep now. It reports false when an identical task
// is already queued.
func EnqueueSweep(ctx context.Context, client *asynq.Client) (bool, error) {
	if _, err := client.EnqueueContext(ctx, NewSweepTask()); err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return false, nil
		}
		return false, fmt.Errorf("enqueue sweep task: %w", err)
	}
	return true, nil
}

// RegisterPeriodic adds the sweep and reconcile entries to scheduler.
func RegisterPeriodic(scheduler *asynq.Scheduler, sweepSpec, reconcileSpec string) error {
	if _, err := scheduler.Register(sweepSpec, NewSweepTask()); err != nil {
		return fmt.Errorf("register sweep %q: %w", sweepSpec, err)
	}
	if reconcileSpec == "" {
		return nil
	}
	if _, err := scheduler.Register(reconcileSpec, NewReconcileTask()); err != nil {
		return fmt.Errorf("register reconcile %q: %w", reconcileSpec, err)
	}
	return nil
}
