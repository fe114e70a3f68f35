package generation

import (
	"context"
	"fmt"
)

// Style selects the plush rendering style for a job.
type Style string

const (
	StyleCute      Style = "cute"
	StyleRealistic Style = "realistic"
	StyleCartoon   Style = "cartoon"
)

// ParseStyle validates a raw style value.
func ParseStyle(raw string) (Style, error) {
	switch Style(raw) {
	case StyleCute, StyleRealistic, StyleCartoon:
		return Style(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStyle, raw)
}

// Size selects the plush toy size for a job.
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

// ParseSize validates a raw size value.
func ParseSize(raw string) (Size, error) {
	switch Size(raw) {
	case SizeSmall, SizeMedium, SizeLarge:
		return Size(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSize, raw)
}

// Status defines the job lifecycle. Jobs are created already processing;
// completed and failed are terminal.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// CanTransition reports whether a status move is legal. Terminal states
// never revert.
func CanTransition(from Status, to Status) bool {
	if from != StatusProcessing {
		return false
	}
	return to == StatusCompleted || to == StatusFailed
}

// Job is one image-transformation request with its own lifecycle.
type Job struct {
	JobID          string
	AccountID      string
	SourceImageRef string
	ResultImageRef string
	Style          Style
	Size           Size
	Prompt         string
	Status         Status
	IsFavorite     bool
	Refunded       bool
	CreatedUnixUTC int64
}

// JobStore is the persistence contract for generation jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// UpdateJobStatus moves a job from one status to another, setting the
	// result reference when non-empty. Zero matched rows means the job was
	// already terminal and yields ErrJobClosed.
	UpdateJobStatus(ctx context.Context, jobID string, from Status, to Status, resultRef string) error
	SetFavorite(ctx context.Context, jobID string, favorite bool) error
	MarkRefunded(ctx context.Context, jobID string) error
	DeleteJob(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context, accountID string, limit int, offset int) ([]Job, error)
	ListUnrefundedFailedJobs(ctx context.Context, limit int) ([]Job, error)
	ListStaleProcessingJobs(ctx context.Context, createdBeforeUnixUTC int64, limit int) ([]Job, error)
}

// BlobStore stores original and generated images.
type BlobStore interface {
	Save(ctx context.Context, data []byte, path string) (string, error)
	Load(ctx context.Context, url string) ([]byte, error)
	Delete(ctx context.Context, url string) error
}

// TransformResult is the external transform service's reply. A nil Image is
// a soft failure: the service answered but produced no usable output.
type TransformResult struct {
	Image       []byte
	Description string
}

// Transformer is the opaque external image-transformation service.
type Transformer interface {
	Transform(ctx context.Context, image []byte, instruction string) (TransformResult, error)
}
