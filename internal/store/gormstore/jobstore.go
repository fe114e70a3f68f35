package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/plushify/plushify/pkg/credit"
	"github.com/plushify/plushify/pkg/generation"
)

const (
	errorSubjectJob  = "job"
	errorCodeDelete  = "delete"
	errorCodeRefund  = "refund"
	errorCodeStatus  = "status"
	errorCodeFlag    = "favorite"
	statusColumnName = "status"
)

func (store *Store) CreateJob(ctx context.Context, job generation.Job) error {
	createdAt := time.Unix(job.CreatedUnixUTC, 0).UTC()
	if job.CreatedUnixUTC == 0 {
		createdAt = time.Now().UTC()
	}
	model := GenerationJob{
		JobID:          job.JobID,
		AccountID:      job.AccountID,
		SourceImageRef: job.SourceImageRef,
		ResultImageRef: optionalString(job.ResultImageRef),
		Style:          string(job.Style),
		Size:           string(job.Size),
		Prompt:         job.Prompt,
		Status:         string(job.Status),
		IsFavorite:     job.IsFavorite,
		Refunded:       job.Refunded,
		CreatedAt:      createdAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectJob, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetJob(ctx context.Context, jobID string) (generation.Job, error) {
	var model GenerationJob
	err := store.db.WithContext(ctx).Where("job_id = ?", jobID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return generation.Job{}, wrapStoreError(errorSubjectJob, errorCodeGet, generation.ErrJobNotFound)
		}
		return generation.Job{}, wrapStoreError(errorSubjectJob, errorCodeGet, err)
	}
	return mapGenerationJob(model)
}

// UpdateJobStatus performs a guarded transition. The WHERE clause pins the
// expected current status so a terminal job is never rewritten.
func (store *Store) UpdateJobStatus(ctx context.Context, jobID string, from generation.Status, to generation.Status, resultRef string) error {
	updates := map[string]any{statusColumnName: string(to)}
	if resultRef != "" {
		updates["result_image_ref"] = resultRef
	}
	result := store.db.WithContext(ctx).
		Model(&GenerationJob{}).
		Where("job_id = ? AND status = ?", jobID, string(from)).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectJob, errorCodeStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		exists, err := store.jobExists(ctx, jobID)
		if err != nil {
			return err
		}
		if !exists {
			return wrapStoreError(errorSubjectJob, errorCodeStatus, generation.ErrJobNotFound)
		}
		return wrapStoreError(errorSubjectJob, errorCodeStatus, generation.ErrJobClosed)
	}
	return nil
}

func (store *Store) SetFavorite(ctx context.Context, jobID string, favorite bool) error {
	result := store.db.WithContext(ctx).
		Model(&GenerationJob{}).
		Where("job_id = ?", jobID).
		Update("is_favorite", favorite)
	if result.Error != nil {
		return wrapStoreError(errorSubjectJob, errorCodeFlag, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectJob, errorCodeFlag, generation.ErrJobNotFound)
	}
	return nil
}

func (store *Store) MarkRefunded(ctx context.Context, jobID string) error {
	result := store.db.WithContext(ctx).
		Model(&GenerationJob{}).
		Where("job_id = ?", jobID).
		Update("refunded", true)
	if result.Error != nil {
		return wrapStoreError(errorSubjectJob, errorCodeRefund, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectJob, errorCodeRefund, generation.ErrJobNotFound)
	}
	return nil
}

func (store *Store) DeleteJob(ctx context.Context, jobID string) error {
	result := store.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Delete(&GenerationJob{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectJob, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectJob, errorCodeDelete, generation.ErrJobNotFound)
	}
	return nil
}

func (store *Store) ListJobs(ctx context.Context, accountID string, limit int, offset int) ([]generation.Job, error) {
	var rows []GenerationJob
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectJob, errorCodeList, err)
	}
	return mapGenerationJobs(rows)
}

func (store *Store) ListUnrefundedFailedJobs(ctx context.Context, limit int) ([]generation.Job, error) {
	var rows []GenerationJob
	err := store.db.WithContext(ctx).
		Where("status = ? AND refunded = ?", string(generation.StatusFailed), false).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectJob, errorCodeList, err)
	}
	return mapGenerationJobs(rows)
}

func (store *Store) ListStaleProcessingJobs(ctx context.Context, createdBeforeUnixUTC int64, limit int) ([]generation.Job, error) {
	cutoff := time.Unix(createdBeforeUnixUTC, 0).UTC()
	var rows []GenerationJob
	err := store.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(generation.StatusProcessing), cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectJob, errorCodeList, err)
	}
	return mapGenerationJobs(rows)
}

func (store *Store) jobExists(ctx context.Context, jobID string) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&GenerationJob{}).
		Where("job_id = ?", jobID).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectJob, errorCodeGet, err)
	}
	return count > 0, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func mapGenerationJob(model GenerationJob) (generation.Job, error) {
	style, err := generation.ParseStyle(model.Style)
	if err != nil {
		return generation.Job{}, wrapStoreError(errorSubjectJob, errorCodeInvalid, err)
	}
	size, err := generation.ParseSize(model.Size)
	if err != nil {
		return generation.Job{}, wrapStoreError(errorSubjectJob, errorCodeInvalid, err)
	}
	status, err := generation.ParseStatus(model.Status)
	if err != nil {
		return generation.Job{}, wrapStoreError(errorSubjectJob, errorCodeInvalid, err)
	}
	var resultRef string
	if model.ResultImageRef != nil {
		resultRef = *model.ResultImageRef
	}
	return generation.Job{
		JobID:          model.JobID,
		AccountID:      model.AccountID,
		SourceImageRef: model.SourceImageRef,
		ResultImageRef: resultRef,
		Style:          style,
		Size:           size,
		Prompt:         model.Prompt,
		Status:         status,
		IsFavorite:     model.IsFavorite,
		Refunded:       model.Refunded,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func mapGenerationJobs(rows []GenerationJob) ([]generation.Job, error) {
	jobs := make([]generation.Job, 0, len(rows))
	for _, row := range rows {
		job, err := mapGenerationJob(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

var _ credit.Store = (*Store)(nil)
var _ generation.JobStore = (*Store)(nil)
