package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plushify/plushify/internal/admin"
	"github.com/plushify/plushify/pkg/credit"
	"github.com/plushify/plushify/pkg/generation"
)

// statusForError maps domain errors to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, credit.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, generation.ErrForbidden), errors.Is(err, admin.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, credit.ErrAccountNotFound), errors.Is(err, generation.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, credit.ErrInvalidAccountID),
		errors.Is(err, credit.ErrInvalidAmount),
		errors.Is(err, credit.ErrInvalidKind),
		errors.Is(err, generation.ErrInvalidStyle),
		errors.Is(err, generation.ErrInvalidSize),
		errors.Is(err, generation.ErrInvalidImage),
		errors.Is(err, admin.ErrInvalidAdjustment),
		errors.Is(err, admin.ErrInvalidReason):
		return http.StatusBadRequest
	case errors.Is(err, generation.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(ctx *gin.Context, err error) {
	status := statusForError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	ctx.JSON(status, gin.H{"error": message})
}
