package credit

import (
	"context"
	"fmt"
	"strings"
)

// Kind enumerates ledger entry kinds.
type Kind string

const (
	KindDeduction   Kind = "deduction"
	KindRefund      Kind = "refund"
	KindPurchase    Kind = "purchase"
	KindAdminGrant  Kind = "admin-grant"
	KindAdminRevoke Kind = "admin-revoke"
)

// ParseKind validates a raw entry kind.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindDeduction, KindRefund, KindPurchase, KindAdminGrant, KindAdminRevoke:
		return Kind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
}

// String returns the raw kind value.
func (kind Kind) String() string {
	return string(kind)
}

// EntryStatus describes the terminal state of a ledger entry.
// Only completed entries are written today; failed is reserved.
type EntryStatus string

const (
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
)

// Metadata holds free-form annotations attached to a ledger entry.
type Metadata map[string]string

// Entry is a single immutable line in the ledger.
type Entry struct {
	EntryID          string
	AccountID        string
	Delta            int64
	ResultingBalance int64
	Kind             Kind
	Status           EntryStatus
	IdempotencyKey   string
	Metadata         Metadata
	CreatedUnixUTC   int64
}

// Account is a credit-holding record.
type Account struct {
	AccountID      string
	Balance        int64
	CreatedUnixUTC int64
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return trimmed, nil
}

// NewAmount validates an amount and ensures it is strictly positive.
func NewAmount(raw int64) (int64, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return raw, nil
}

// Store is the persistence contract used by Service. Implementations must
// serialize GetAccountForUpdate against concurrent transactions on the same
// account (row-level lock or equivalent).
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAccount(ctx context.Context, accountID string) error
	GetAccount(ctx context.Context, accountID string) (Account, error)
	GetAccountForUpdate(ctx context.Context, accountID string) (Account, error)
	UpdateBalance(ctx context.Context, accountID string, balance int64) error
	InsertEntry(ctx context.Context, entry Entry) error
	ListEntries(ctx context.Context, accountID string, limit int) ([]Entry, error)
	SumDeltas(ctx context.Context, accountID string) (int64, error)
}
