package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plushify/plushify/pkg/credit"
)

const (
	// GenerationCost is the credit price of one transformation.
	GenerationCost int64 = 1

	defaultQueueCapacity   = 64
	defaultDispatchTimeout = 2 * time.Minute

	refundKeyPrefix = "refund:"
)

// Ledger is the slice of the credit service the job manager depends on.
type Ledger interface {
	HasSufficient(ctx context.Context, accountID string, required int64) bool
	Debit(ctx context.Context, accountID string, amount int64, kind credit.Kind, metadata credit.Metadata) (int64, error)
	CreditKeyed(ctx context.Context, accountID string, amount int64, kind credit.Kind, key string, metadata credit.Metadata) (int64, error)
}

// Manager owns the generation job state machine: creation, dispatch to the
// external transform service, completion or failure, and the credit
// reconciliation around both.
type Manager struct {
	jobs        JobStore
	ledger      Ledger
	blobs       BlobStore
	transformer Transformer
	logger      *zap.Logger
	nowFn       func() int64

	queue           chan string
	dispatchTimeout time.Duration
	outcomeObserver func(outcome string)
}

// ManagerOption configures a Manager instance.
type ManagerOption func(*Manager)

// WithQueueCapacity sets the dispatch queue depth.
func WithQueueCapacity(capacity int) ManagerOption {
	return func(manager *Manager) {
		if capacity > 0 {
			manager.queue = make(chan string, capacity)
		}
	}
}

// WithDispatchTimeout bounds a single external transform attempt.
func WithDispatchTimeout(timeout time.Duration) ManagerOption {
	return func(manager *Manager) {
		if timeout > 0 {
			manager.dispatchTimeout = timeout
		}
	}
}

// WithOutcomeObserver wires a callback invoked with "completed" or "failed"
// once per terminal transition.
func WithOutcomeObserver(observer func(outcome string)) ManagerOption {
	return func(manager *Manager) {
		manager.outcomeObserver = observer
	}
}

// NewManager wires a Manager.
func NewManager(jobs JobStore, ledger Ledger, blobs BlobStore, transformer Transformer, logger *zap.Logger, now func() int64, options ...ManagerOption) (*Manager, error) {
	if jobs == nil || ledger == nil || blobs == nil || transformer == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidManagerConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidManagerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	manager := &Manager{
		jobs:            jobs,
		ledger:          ledger,
		blobs:           blobs,
		transformer:     transformer,
		logger:          logger,
		nowFn:           now,
		queue:           make(chan string, defaultQueueCapacity),
		dispatchTimeout: defaultDispatchTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(manager)
		}
	}
	return manager, nil
}

// Submit persists the source image, creates a processing job, debits one
// credit, and enqueues the job for asynchronous dispatch. The caller gets
// the job id back immediately and polls for completion.
//
// Callers are expected to check HasSufficient first; the debit re-validates
// against the live balance, and a losing race compensates by removing the
// job row and the uploaded blob.
func (manager *Manager) Submit(ctx context.Context, accountID string, imageData []byte, filename string, style Style, size Size) (string, error) {
	normalizedID, err := credit.NewAccountID(accountID)
	if err != nil {
		return "", err
	}
	if len(imageData) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	if _, err := ParseStyle(string(style)); err != nil {
		return "", err
	}
	if _, err := ParseSize(string(size)); err != nil {
		return "", err
	}

	now := manager.nowFn()
	sourceRef, err := manager.blobs.Save(ctx, imageData, originalPath(normalizedID, now, filename))
	if err != nil {
		return "", fmt.Errorf("store source image: %w", err)
	}

	job := Job{
		JobID:          uuid.NewString(),
		AccountID:      normalizedID,
		SourceImageRef: sourceRef,
		Style:          style,
		Size:           size,
		Prompt:         BuildPrompt(style, size),
		Status:         StatusProcessing,
		CreatedUnixUTC: now,
	}
	if err := manager.jobs.CreateJob(ctx, job); err != nil {
		manager.deleteBlob(ctx, sourceRef)
		return "", fmt.Errorf("create job: %w", err)
	}

	if _, err := manager.ledger.Debit(ctx, normalizedID, GenerationCost, credit.KindDeduction, credit.Metadata{
		"reason": "image generation",
		"jobId":  job.JobID,
	}); err != nil {
		manager.rollbackSubmit(ctx, job)
		return "", err
	}

	select {
	case manager.queue <- job.JobID:
	default:
		manager.logger.Warn("dispatch queue full, failing job", zap.String("job_id", job.JobID))
		manager.Fail(ctx, job.JobID)
		return "", ErrQueueFull
	}
	return job.JobID, nil
}

// Complete moves a job to completed with its result reference. Unknown or
// already-terminal jobs are logged and swallowed: this is the internal
// callback path, not a public surface.
func (manager *Manager) Complete(ctx context.Context, jobID string, resultRef string) {
	err := manager.jobs.UpdateJobStatus(ctx, jobID, StatusProcessing, StatusCompleted, resultRef)
	if err != nil {
		manager.logger.Warn("complete job dropped", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	manager.observe("completed")
}

// Fail moves a job to failed and refunds its credit. The refund is keyed on
// the job id so a reconciler retry cannot double-credit; a refund failure is
// logged and left for reconciliation.
func (manager *Manager) Fail(ctx context.Context, jobID string) {
	job, err := manager.jobs.GetJob(ctx, jobID)
	if err != nil {
		manager.logger.Warn("fail job dropped", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if err := manager.jobs.UpdateJobStatus(ctx, jobID, StatusProcessing, StatusFailed, ""); err != nil {
		manager.logger.Warn("fail job dropped", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	manager.observe("failed")
	manager.refund(ctx, job)
}

// Get returns a job after an ownership check.
func (manager *Manager) Get(ctx context.Context, jobID string, requestingAccountID string) (Job, error) {
	job, err := manager.jobs.GetJob(ctx, jobID)
	if err != nil {
		return Job{}, err
	}
	if job.AccountID != requestingAccountID {
		return Job{}, ErrForbidden
	}
	return job, nil
}

// List returns the account's jobs, newest first.
func (manager *Manager) List(ctx context.Context, accountID string, limit int, offset int) ([]Job, error) {
	return manager.jobs.ListJobs(ctx, accountID, limit, offset)
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (manager *Manager) ToggleFavorite(ctx context.Context, jobID string, requestingAccountID string) (bool, error) {
	job, err := manager.Get(ctx, jobID, requestingAccountID)
	if err != nil {
		return false, err
	}
	next := !job.IsFavorite
	if err := manager.jobs.SetFavorite(ctx, jobID, next); err != nil {
		return false, err
	}
	return next, nil
}

// Delete removes a job and its image blobs. Blob deletion is best effort;
// no credit moves.
func (manager *Manager) Delete(ctx context.Context, jobID string, requestingAccountID string) error {
	job, err := manager.Get(ctx, jobID, requestingAccountID)
	if err != nil {
		return err
	}
	manager.deleteBlob(ctx, job.SourceImageRef)
	if job.ResultImageRef != "" {
		manager.deleteBlob(ctx, job.ResultImageRef)
	}
	return manager.jobs.DeleteJob(ctx, jobID)
}

func (manager *Manager) refund(ctx context.Context, job Job) {
	_, err := manager.ledger.CreditKeyed(ctx, job.AccountID, GenerationCost, credit.KindRefund, refundKeyPrefix+job.JobID, credit.Metadata{
		"reason": "generation failed",
		"jobId":  job.JobID,
	})
	if err != nil {
		manager.logger.Error("refund failed, left for reconciliation",
			zap.String("job_id", job.JobID),
			zap.String("account_id", job.AccountID),
			zap.Error(err))
		return
	}
	if err := manager.jobs.MarkRefunded(ctx, job.JobID); err != nil {
		manager.logger.Warn("mark refunded failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

func (manager *Manager) rollbackSubmit(ctx context.Context, job Job) {
	if err := manager.jobs.DeleteJob(ctx, job.JobID); err != nil {
		manager.logger.Error("submit rollback: job row left behind", zap.String("job_id", job.JobID), zap.Error(err))
	}
	manager.deleteBlob(ctx, job.SourceImageRef)
}

func (manager *Manager) deleteBlob(ctx context.Context, ref string) {
	if ref == "" {
		return
	}
	if err := manager.blobs.Delete(ctx, ref); err != nil {
		manager.logger.Warn("blob delete failed", zap.String("ref", ref), zap.Error(err))
	}
}

func (manager *Manager) observe(outcome string) {
	if manager.outcomeObserver != nil {
		manager.outcomeObserver(outcome)
	}
}

func originalPath(accountID string, nowUnixUTC int64, filename string) string {
	if filename == "" {
		filename = "upload"
	}
	return fmt.Sprintf("originals/%s/%d-%s", accountID, nowUnixUTC, filename)
}

func generatedPath(accountID string, nowUnixUTC int64) string {
	return fmt.Sprintf("generated/%s/%d-generated.png", accountID, nowUnixUTC)
}
