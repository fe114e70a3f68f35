package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/plushify/plushify/pkg/credit"
)

// MaxAdjustment bounds a single grant or revocation.
const MaxAdjustment = 10_000

const defaultTransactionsLimit = 50

var (
	ErrNotAuthorized     = errors.New("actor is not an admin")
	ErrInvalidReason     = errors.New("invalid adjustment reason")
	ErrInvalidAdjustment = errors.New("invalid adjustment amount")
)

// Authorizer answers whether an actor holds admin privilege.
type Authorizer interface {
	IsAdmin(ctx context.Context, actorID string) (bool, error)
}

// Ledger is the credit surface used for overrides.
type Ledger interface {
	Credit(ctx context.Context, accountID string, amount int64, kind credit.Kind, metadata credit.Metadata) (int64, error)
	ForceDebit(ctx context.Context, accountID string, amount int64, kind credit.Kind, metadata credit.Metadata) (int64, error)
	Entries(ctx context.Context, accountID string, limit int) ([]credit.Entry, error)
}

// Service exposes the admin credit override operations. Every call is gated
// on the actor's admin membership.
type Service struct {
	authorizer Authorizer
	ledger     Ledger
	logger     *zap.Logger
}

// NewService wires an admin Service.
func NewService(authorizer Authorizer, ledger Ledger, logger *zap.Logger) (*Service, error) {
	if authorizer == nil {
		return nil, errors.New("admin service: authorizer dependency is nil")
	}
	if ledger == nil {
		return nil, errors.New("admin service: ledger dependency is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{authorizer: authorizer, ledger: ledger, logger: logger}, nil
}

// GrantCredits adds credits to an account on behalf of an admin actor.
func (service *Service) GrantCredits(ctx context.Context, actorID string, accountID string, amount int64, reason string) (int64, error) {
	normalizedReason, err := service.authorizeAdjustment(ctx, actorID, amount, reason)
	if err != nil {
		return 0, err
	}
	balance, err := service.ledger.Credit(ctx, accountID, amount, credit.KindAdminGrant, adjustmentMetadata(actorID, normalizedReason))
	if err != nil {
		return 0, err
	}
	service.logger.Info("admin grant applied",
		zap.String("actor_id", actorID),
		zap.String("account_id", accountID),
		zap.Int64("amount", amount),
		zap.Int64("balance", balance))
	return balance, nil
}

// RevokeCredits removes credits from an account. The balance may go
// negative; the ledger records the debt.
func (service *Service) RevokeCredits(ctx context.Context, actorID string, accountID string, amount int64, reason string) (int64, error) {
	normalizedReason, err := service.authorizeAdjustment(ctx, actorID, amount, reason)
	if err != nil {
		return 0, err
	}
	balance, err := service.ledger.ForceDebit(ctx, accountID, amount, credit.KindAdminRevoke, adjustmentMetadata(actorID, normalizedReason))
	if err != nil {
		return 0, err
	}
	service.logger.Info("admin revoke applied",
		zap.String("actor_id", actorID),
		zap.String("account_id", accountID),
		zap.Int64("amount", amount),
		zap.Int64("balance", balance))
	return balance, nil
}

// Transactions lists an account's recent ledger entries for an admin actor.
func (service *Service) Transactions(ctx context.Context, actorID string, accountID string, limit int) ([]credit.Entry, error) {
	if err := service.requireAdmin(ctx, actorID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultTransactionsLimit {
		limit = defaultTransactionsLimit
	}
	return service.ledger.Entries(ctx, accountID, limit)
}

func (service *Service) authorizeAdjustment(ctx context.Context, actorID string, amount int64, reason string) (string, error) {
	if err := service.requireAdmin(ctx, actorID); err != nil {
		return "", err
	}
	if amount <= 0 || amount > MaxAdjustment {
		return "", fmt.Errorf("%w: %d must be in 1..%d", ErrInvalidAdjustment, amount, MaxAdjustment)
	}
	normalizedReason := strings.TrimSpace(reason)
	if normalizedReason == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidReason)
	}
	return normalizedReason, nil
}

func (service *Service) requireAdmin(ctx context.Context, actorID string) error {
	isAdmin, err := service.authorizer.IsAdmin(ctx, actorID)
	if err != nil {
		return err
	}
	if !isAdmin {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, actorID)
	}
	return nil
}

func adjustmentMetadata(actorID string, reason string) credit.Metadata {
	return credit.Metadata{"actorId": actorID, "reason": reason}
}
