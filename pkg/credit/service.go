package credit

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the ledger domain logic over a Store. Every balance
// mutation goes through a single transactional read-modify-write so the
// account balance and its ledger entry land in one atomic unit.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the current balance for an account.
func (service *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	normalizedID, err := NewAccountID(accountID)
	if err != nil {
		return 0, err
	}
	account, err := service.store.GetAccount(ctx, normalizedID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// HasSufficient reports whether the account holds at least the required
// amount. It never fails: any lookup error reads as insufficient.
func (service *Service) HasSufficient(ctx context.Context, accountID string, required int64) bool {
	balance, err := service.Balance(ctx, accountID)
	if err != nil {
		return false
	}
	return balance >= required
}

// Debit removes amount from the account, failing with ErrInsufficientBalance
// when the balance would go negative. Returns the new balance.
func (service *Service) Debit(ctx context.Context, accountID string, amount int64, kind Kind, metadata Metadata) (int64, error) {
	newBalance, operationError := service.applyChecked(ctx, accountID, amount, kind, "", metadata, false)
	service.logOperation(ctx, OperationLog{
		Operation: operationDebit,
		AccountID: accountID,
		Amount:    amount,
		Kind:      kind,
		Error:     operationError,
	})
	return newBalance, operationError
}

// Credit adds amount to the account. Returns the new balance.
func (service *Service) Credit(ctx context.Context, accountID string, amount int64, kind Kind, metadata Metadata) (int64, error) {
	newBalance, operationError := service.applyCredit(ctx, accountID, amount, kind, "", metadata)
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		AccountID: accountID,
		Amount:    amount,
		Kind:      kind,
		Error:     operationError,
	})
	return newBalance, operationError
}

// CreditKeyed is Credit with an idempotency key: replaying the same key is a
// no-op success that returns the current balance.
func (service *Service) CreditKeyed(ctx context.Context, accountID string, amount int64, kind Kind, key string, metadata Metadata) (int64, error) {
	if key == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	newBalance, operationError := service.applyCredit(ctx, accountID, amount, kind, key, metadata)
	logStatus := ""
	if errors.Is(operationError, ErrDuplicateEntry) {
		newBalance, operationError = service.Balance(ctx, accountID)
		logStatus = operationStatusDuplicate
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		AccountID: accountID,
		Amount:    amount,
		Kind:      kind,
		Status:    logStatus,
		Error:     operationError,
	})
	return newBalance, operationError
}

// Purchase applies a paid credit grant exactly once per external order id.
func (service *Service) Purchase(ctx context.Context, accountID string, amount int64, orderID string, metadata Metadata) (int64, error) {
	if orderID == "" {
		return 0, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	return service.CreditKeyed(ctx, accountID, amount, KindPurchase, purchaseKeyPrefix+orderID, metadata)
}

// ForceDebit removes amount without the non-negative check. Admin path only.
func (service *Service) ForceDebit(ctx context.Context, accountID string, amount int64, kind Kind, metadata Metadata) (int64, error) {
	newBalance, operationError := service.applyChecked(ctx, accountID, amount, kind, "", metadata, true)
	service.logOperation(ctx, OperationLog{
		Operation: operationForceDebit,
		AccountID: accountID,
		Amount:    amount,
		Kind:      kind,
		Error:     operationError,
	})
	return newBalance, operationError
}

// Entries lists the most recent ledger entries for an account.
func (service *Service) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	normalizedID, err := NewAccountID(accountID)
	if err != nil {
		return nil, err
	}
	if _, err := service.store.GetAccount(ctx, normalizedID); err != nil {
		return nil, err
	}
	return service.store.ListEntries(ctx, normalizedID, limit)
}

// Audit verifies the reconciliation invariant: the sum of all entry deltas
// must equal the stored balance.
func (service *Service) Audit(ctx context.Context, accountID string) error {
	normalizedID, err := NewAccountID(accountID)
	if err != nil {
		return err
	}
	account, err := service.store.GetAccount(ctx, normalizedID)
	if err != nil {
		return err
	}
	sum, err := service.store.SumDeltas(ctx, normalizedID)
	if err != nil {
		return err
	}
	if sum != account.Balance {
		return WrapError("service", "audit", "drift",
			fmt.Errorf("%w: balance %d, entry sum %d", ErrLedgerDrift, account.Balance, sum))
	}
	return nil
}

func (service *Service) applyChecked(ctx context.Context, accountID string, amount int64, kind Kind, key string, metadata Metadata, allowNegative bool) (int64, error) {
	normalizedID, err := NewAccountID(accountID)
	if err != nil {
		return 0, err
	}
	validAmount, err := NewAmount(amount)
	if err != nil {
		return 0, err
	}
	if _, err := ParseKind(kind.String()); err != nil {
		return 0, err
	}
	return service.apply(ctx, normalizedID, -validAmount, kind, key, metadata, allowNegative)
}

func (service *Service) applyCredit(ctx context.Context, accountID string, amount int64, kind Kind, key string, metadata Metadata) (int64, error) {
	normalizedID, err := NewAccountID(accountID)
	if err != nil {
		return 0, err
	}
	validAmount, err := NewAmount(amount)
	if err != nil {
		return 0, err
	}
	if _, err := ParseKind(kind.String()); err != nil {
		return 0, err
	}
	return service.apply(ctx, normalizedID, validAmount, kind, key, metadata, true)
}

// apply is the single atomic read-modify-write primitive. The entry insert
// happens before the balance write so an idempotency conflict aborts the
// transaction without touching the balance.
func (service *Service) apply(ctx context.Context, accountID string, delta int64, kind Kind, key string, metadata Metadata, allowNegative bool) (int64, error) {
	if metadata == nil {
		metadata = Metadata{}
	}
	var newBalance int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		newBalance = account.Balance + delta
		if newBalance < 0 && !allowNegative {
			return ErrInsufficientBalance
		}
		entry := Entry{
			AccountID:        accountID,
			Delta:            delta,
			ResultingBalance: newBalance,
			Kind:             kind,
			Status:           EntryStatusCompleted,
			IdempotencyKey:   key,
			Metadata:         metadata,
			CreatedUnixUTC:   service.nowFn(),
		}
		if err := transactionStore.InsertEntry(ctx, entry); err != nil {
			return err
		}
		return transactionStore.UpdateBalance(ctx, accountID, newBalance)
	})
	if operationError != nil {
		return 0, operationError
	}
	return newBalance, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
