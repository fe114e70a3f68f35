package generation

import (
	"context"

	"go.uber.org/zap"
)

// Run consumes the dispatch queue with the given number of workers until the
// context is cancelled. Each dispatch makes a single bounded attempt against
// the external transform service and writes back the terminal status.
func (manager *Manager) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for index := 0; index < workers; index++ {
		go manager.workerLoop(ctx)
	}
}

func (manager *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-manager.queue:
			manager.dispatch(ctx, jobID)
		}
	}
}

// dispatch drives one job through the external transform call. Any error,
// timeout, or a reply without an output image lands the job in failed; the
// refund happens inside Fail.
func (manager *Manager) dispatch(ctx context.Context, jobID string) {
	job, err := manager.jobs.GetJob(ctx, jobID)
	if err != nil {
		manager.logger.Warn("dispatch dropped", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status != StatusProcessing {
		return
	}

	image, err := manager.blobs.Load(ctx, job.SourceImageRef)
	if err != nil {
		manager.logger.Error("source image unavailable", zap.String("job_id", jobID), zap.Error(err))
		manager.Fail(ctx, jobID)
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, manager.dispatchTimeout)
	result, err := manager.transformer.Transform(attemptCtx, image, job.Prompt)
	cancel()
	if err != nil {
		manager.logger.Warn("transform call failed", zap.String("job_id", jobID), zap.Error(err))
		manager.Fail(ctx, jobID)
		return
	}
	if len(result.Image) == 0 {
		// The service answered with text only. Soft failure.
		manager.logger.Warn("transform returned no image",
			zap.String("job_id", jobID),
			zap.String("description", result.Description))
		manager.Fail(ctx, jobID)
		return
	}

	resultRef, err := manager.blobs.Save(ctx, result.Image, generatedPath(job.AccountID, manager.nowFn()))
	if err != nil {
		manager.logger.Error("store result image failed", zap.String("job_id", jobID), zap.Error(err))
		manager.Fail(ctx, jobID)
		return
	}
	manager.Complete(ctx, jobID, resultRef)
}
