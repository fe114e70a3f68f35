package credit

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// stubStore is an in-memory Store. WithTx holds a mutex for the whole
// callback, which stands in for the row lock a real store takes.
type stubStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	entries  []Entry
	keys     map[string]bool

	getAccountError    error
	insertEntryError   error
	updateBalanceError error
	sumDeltasError     error
}

func newStubStore() *stubStore {
	return &stubStore{
		accounts: map[string]*Account{},
		keys:     map[string]bool{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return fn(ctx, (*lockedStubStore)(store))
}

func (store *stubStore) CreateAccount(ctx context.Context, accountID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.accounts[accountID] = &Account{AccountID: accountID}
	return nil
}

func (store *stubStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.getAccountLocked(accountID)
}

func (store *stubStore) GetAccountForUpdate(ctx context.Context, accountID string) (Account, error) {
	// Only valid inside WithTx; lockedStubStore overrides this.
	return Account{}, fmt.Errorf("locked read outside transaction")
}

func (store *stubStore) UpdateBalance(ctx context.Context, accountID string, balance int64) error {
	return fmt.Errorf("balance write outside transaction")
}

func (store *stubStore) InsertEntry(ctx context.Context, entry Entry) error {
	return fmt.Errorf("entry write outside transaction")
}

func (store *stubStore) ListEntries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.listEntriesLocked(accountID, limit)
}

func (store *stubStore) SumDeltas(ctx context.Context, accountID string) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.sumDeltasLocked(accountID)
}

func (store *stubStore) getAccountLocked(accountID string) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	account, ok := store.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *account, nil
}

func (store *stubStore) listEntriesLocked(accountID string, limit int) ([]Entry, error) {
	entries := make([]Entry, 0, limit)
	for index := len(store.entries) - 1; index >= 0 && len(entries) < limit; index-- {
		if store.entries[index].AccountID == accountID {
			entries = append(entries, store.entries[index])
		}
	}
	return entries, nil
}

func (store *stubStore) sumDeltasLocked(accountID string) (int64, error) {
	if store.sumDeltasError != nil {
		return 0, store.sumDeltasError
	}
	var sum int64
	for _, entry := range store.entries {
		if entry.AccountID == accountID {
			sum += entry.Delta
		}
	}
	return sum, nil
}

// lockedStubStore is the transactional view handed to WithTx callbacks.
type lockedStubStore stubStore

func (store *lockedStubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *lockedStubStore) CreateAccount(ctx context.Context, accountID string) error {
	store.accounts[accountID] = &Account{AccountID: accountID}
	return nil
}

func (store *lockedStubStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	return (*stubStore)(store).getAccountLocked(accountID)
}

func (store *lockedStubStore) GetAccountForUpdate(ctx context.Context, accountID string) (Account, error) {
	return (*stubStore)(store).getAccountLocked(accountID)
}

func (store *lockedStubStore) UpdateBalance(ctx context.Context, accountID string, balance int64) error {
	if store.updateBalanceError != nil {
		return store.updateBalanceError
	}
	account, ok := store.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Balance = balance
	return nil
}

func (store *lockedStubStore) InsertEntry(ctx context.Context, entry Entry) error {
	if store.insertEntryError != nil {
		return store.insertEntryError
	}
	if entry.IdempotencyKey != "" {
		if store.keys[entry.IdempotencyKey] {
			return WrapError("store", "entry", "duplicate", ErrDuplicateEntry)
		}
		store.keys[entry.IdempotencyKey] = true
	}
	entry.EntryID = fmt.Sprintf("entry-%d", len(store.entries)+1)
	store.entries = append(store.entries, entry)
	return nil
}

func (store *lockedStubStore) ListEntries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	return (*stubStore)(store).listEntriesLocked(accountID, limit)
}

func (store *lockedStubStore) SumDeltas(ctx context.Context, accountID string) (int64, error) {
	return (*stubStore)(store).sumDeltasLocked(accountID)
}

func newFundedStore(test *testing.T, accountID string, balance int64) *stubStore {
	test.Helper()
	store := newStubStore()
	store.accounts[accountID] = &Account{AccountID: accountID, Balance: balance}
	if balance != 0 {
		store.entries = append(store.entries, Entry{
			AccountID:        accountID,
			Delta:            balance,
			ResultingBalance: balance,
			Kind:             KindPurchase,
			Status:           EntryStatusCompleted,
		})
	}
	return store
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}
