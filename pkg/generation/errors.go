package generation

import (
	"errors"

	"github.com/plushify/plushify/pkg/credit"
)

// Domain-level error values returned by the job manager.
var (
	ErrJobNotFound          = errors.New("job not found")
	ErrForbidden            = errors.New("forbidden")
	ErrJobClosed            = errors.New("job already terminal")
	ErrInvalidStyle         = errors.New("invalid style")
	ErrInvalidSize          = errors.New("invalid size")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrInvalidImage         = errors.New("invalid image")
	ErrInvalidManagerConfig = errors.New("invalid manager config")
	ErrExternalService      = errors.New("transform service failure")
	ErrQueueFull            = errors.New("dispatch queue full")
)

// ErrInsufficientCredits is the submit-time rejection; it is the ledger's
// insufficient-balance failure surfaced under the generation vocabulary.
var ErrInsufficientCredits = credit.ErrInsufficientBalance
