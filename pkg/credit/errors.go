package credit

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the credit service.
var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrDuplicateEntry        = errors.New("duplicate ledger entry")
	ErrInvalidAccountID      = errors.New("invalid account id")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidKind           = errors.New("invalid entry kind")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidOrderID        = errors.New("invalid order id")
	ErrInvalidServiceConfig  = errors.New("invalid service config")
	ErrLedgerDrift           = errors.New("ledger drift")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
