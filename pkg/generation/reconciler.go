package generation

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	reconcileBatchSize = 50

	// Jobs still processing after this long were orphaned by a crash or a
	// dispatch that never wrote back; the reconciler fails them so the
	// refund path runs.
	defaultStaleCutoff = 10 * time.Minute
)

// RunReconciler periodically repairs the two known gaps in the lifecycle:
// failed jobs whose refund never landed, and jobs stuck in processing.
func (manager *Manager) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				manager.ReconcileOnce(ctx)
			}
		}
	}()
}

// ReconcileOnce runs a single repair pass.
func (manager *Manager) ReconcileOnce(ctx context.Context) {
	manager.repairMissingRefunds(ctx)
	manager.failStaleProcessing(ctx)
}

func (manager *Manager) repairMissingRefunds(ctx context.Context) {
	jobs, err := manager.jobs.ListUnrefundedFailedJobs(ctx, reconcileBatchSize)
	if err != nil {
		manager.logger.Error("reconciler: list unrefunded failed jobs", zap.Error(err))
		return
	}
	for _, job := range jobs {
		manager.refund(ctx, job)
		manager.logger.Info("reconciler: refund repaired",
			zap.String("job_id", job.JobID),
			zap.String("account_id", job.AccountID))
	}
}

func (manager *Manager) failStaleProcessing(ctx context.Context) {
	cutoff := manager.nowFn() - int64(defaultStaleCutoff/time.Second)
	jobs, err := manager.jobs.ListStaleProcessingJobs(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		manager.logger.Error("reconciler: list stale processing jobs", zap.Error(err))
		return
	}
	for _, job := range jobs {
		manager.logger.Info("reconciler: failing stale job", zap.String("job_id", job.JobID))
		manager.Fail(ctx, job.JobID)
	}
}
