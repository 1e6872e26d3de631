// Package scheduler runs the periodic payout reconciliation and audit export jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const (
	jobReconcile   = "reconcile_payouts"
	jobAuditExport = "export_reconciliation"
)

// Reconciler drives stale PENDING payouts to a terminal state; *wager.Service satisfies it.
type Reconciler interface {
	ReconcilePayouts(ctx context.Context, grace time.Duration) (wager.ReconcileReport, error)
}

// Exporter ships reconciliation events out of the process.
type Exporter interface {
	Export(ctx context.Context) (int, error)
}

// Scheduler wraps a gocron scheduler. Jobs run in singleton mode: a run that outlasts its
// interval delays the next one instead of overlapping it.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

// New creates a stopped scheduler.
func New(logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{scheduler: scheduler, logger: logger}, nil
}

// AddReconcile runs reconciler every interval for payouts older than grace.
func (scheduler *Scheduler) AddReconcile(ctx context.Context, reconciler Reconciler, interval time.Duration, grace time.Duration) error {
	return scheduler.add(jobReconcile, interval, func() {
		report, err := reconciler.ReconcilePayouts(ctx, grace)
		fields := []zap.Field{
			zap.Int("checked", report.Checked),
			zap.Int("confirmed", report.Confirmed),
			zap.Int("failed", report.Failed),
			zap.Int("still_pending", report.StillPending),
			zap.Int("reconciliation_required", report.ReconciliationRequired),
		}
		if err != nil {
			scheduler.logger.Error("payout reconciliation failed", append(fields, zap.Error(err))...)
			return
		}
		if report.Checked > 0 {
			scheduler.logger.Info("payout reconciliation", fields...)
		}
	})
}

// AddAuditExport runs exporter every interval.
func (scheduler *Scheduler) AddAuditExport(ctx context.Context, exporter Exporter, interval time.Duration) error {
	return scheduler.add(jobAuditExport, interval, func() {
		exported, err := exporter.Export(ctx)
		if err != nil {
			scheduler.logger.Error("reconciliation export failed", zap.Int("exported", exported), zap.Error(err))
		}
	})
}

func (scheduler *Scheduler) add(name string, interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	_, err := scheduler.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Run starts the jobs and blocks until ctx ends, then waits for running jobs to return.
func (scheduler *Scheduler) Run(ctx context.Context) error {
	scheduler.scheduler.Start()
	<-ctx.Done()
	if err := scheduler.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}
