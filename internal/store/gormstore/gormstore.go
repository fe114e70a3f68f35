package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/plushify/plushify/pkg/credit"
)

const (
	defaultMetadataJSON   = "{}"
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	dialectPostgres       = "postgres"

	errorOperationStore = "store"
	errorSubjectAccount = "account"
	errorSubjectEntry   = "entry"
	errorCodeCreate     = "create"
	errorCodeDuplicate  = "duplicate"
	errorCodeGet        = "get"
	errorCodeInsert     = "insert"
	errorCodeInvalid    = "invalid"
	errorCodeList       = "list"
	errorCodeSum        = "sum"
	errorCodeUpdate     = "update"
)

// Store implements credit.Store and generation.JobStore using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore credit.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// CreateAccount inserts an account row; an existing row is left untouched.
func (store *Store) CreateAccount(ctx context.Context, accountID string) error {
	account := Account{AccountID: accountID, CreatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&account).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, accountID string) (credit.Account, error) {
	return store.getAccount(ctx, accountID, false)
}

// GetAccountForUpdate reads the account row under a row-level lock. SQLite
// has no FOR UPDATE; its single-writer transactions give the same guarantee.
func (store *Store) GetAccountForUpdate(ctx context.Context, accountID string) (credit.Account, error) {
	return store.getAccount(ctx, accountID, true)
}

func (store *Store) getAccount(ctx context.Context, accountID string, locked bool) (credit.Account, error) {
	query := store.db.WithContext(ctx)
	if locked && store.db.Dialector.Name() == dialectPostgres {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Account
	err := query.Where("account_id = ?", accountID).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return credit.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, credit.ErrAccountNotFound)
		}
		return credit.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return credit.Account{
		AccountID:      model.AccountID,
		Balance:        model.Balance,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func (store *Store) UpdateBalance(ctx context.Context, accountID string, balance int64) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", accountID).
		Update("balance", balance)
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, credit.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry credit.Entry) error {
	var idempotencyKey *string
	if entry.IdempotencyKey != "" {
		value := entry.IdempotencyKey
		idempotencyKey = &value
	}
	createdAt := time.Unix(entry.CreatedUnixUTC, 0).UTC()
	if entry.CreatedUnixUTC == 0 {
		createdAt = time.Now().UTC()
	}
	model := LedgerEntry{
		EntryID:          entry.EntryID,
		AccountID:        entry.AccountID,
		Delta:            entry.Delta,
		ResultingBalance: entry.ResultingBalance,
		Kind:             entry.Kind.String(),
		Status:           string(entry.Status),
		IdempotencyKey:   idempotencyKey,
		Metadata:         marshalMetadata(entry.Metadata),
		CreatedAt:        createdAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, credit.ErrDuplicateEntry)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, accountID string, limit int) ([]credit.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]credit.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) SumDeltas(ctx context.Context, accountID string) (int64, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(sum(delta),0) as total").
		Where("account_id = ?", accountID).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectEntry, errorCodeSum, err)
	}
	return sum.Total, nil
}

// IsAdmin reports whether the account is listed in admin_users. It is the
// authorization collaborator gating the admin override surface.
func (store *Store) IsAdmin(ctx context.Context, actorID string) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&AdminUser{}).
		Where("account_id = ?", actorID).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return count > 0, nil
}

// GrantAdmin adds an account to admin_users.
func (store *Store) GrantAdmin(ctx context.Context, accountID string) error {
	admin := AdminUser{AccountID: accountID, Role: "admin", CreatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&admin).Error
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return credit.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func marshalMetadata(metadata credit.Metadata) datatypes.JSON {
	if len(metadata) == 0 {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON(raw)
}

func mapLedgerEntry(row LedgerEntry) (credit.Entry, error) {
	kind, err := credit.ParseKind(row.Kind)
	if err != nil {
		return credit.Entry{}, err
	}
	metadata := credit.Metadata{}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return credit.Entry{}, err
		}
	}
	var idempotencyKey string
	if row.IdempotencyKey != nil {
		idempotencyKey = *row.IdempotencyKey
	}
	return credit.Entry{
		EntryID:          row.EntryID,
		AccountID:        row.AccountID,
		Delta:            row.Delta,
		ResultingBalance: row.ResultingBalance,
		Kind:             kind,
		Status:           credit.EntryStatus(row.Status),
		IdempotencyKey:   idempotencyKey,
		Metadata:         metadata,
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
