package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	AccountID string    `gorm:"primaryKey"`
	Balance   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// LedgerEntry mirrors the ledger_entries table. Rows are append-only.
type LedgerEntry struct {
	EntryID          string         `gorm:"type:uuid;primaryKey"`
	AccountID        string         `gorm:"not null;index:idx_entries_account_created,priority:1"`
	Delta            int64          `gorm:"not null"`
	ResultingBalance int64          `gorm:"not null"`
	Kind             string         `gorm:"not null"`
	Status           string         `gorm:"not null"`
	IdempotencyKey   *string        `gorm:"uniqueIndex:uniq_entries_idempotency_key"`
	Metadata         datatypes.JSON `gorm:"not null"`
	CreatedAt        time.Time      `gorm:"not null;index:idx_entries_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// GenerationJob mirrors the generation_jobs table.
type GenerationJob struct {
	JobID          string    `gorm:"type:uuid;primaryKey"`
	AccountID      string    `gorm:"not null;index:idx_jobs_account_created,priority:1"`
	SourceImageRef string    `gorm:"not null"`
	ResultImageRef *string   `gorm:""`
	Style          string    `gorm:"not null"`
	Size           string    `gorm:"not null"`
	Prompt         string    `gorm:"not null"`
	Status         string    `gorm:"not null;index"`
	IsFavorite     bool      `gorm:"not null;default:false"`
	Refunded       bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null;index:idx_jobs_account_created,priority:2"`
}

func (GenerationJob) TableName() string { return "generation_jobs" }

func (job *GenerationJob) BeforeCreate(tx *gorm.DB) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	return nil
}

// AdminUser lists accounts holding admin privilege.
type AdminUser struct {
	AccountID string    `gorm:"primaryKey"`
	Role      string    `gorm:"not null;default:'admin'"`
	CreatedAt time.Time `gorm:"not null"`
}

func (AdminUser) TableName() string { return "admin_users" }

// Models returns every model for schema migration.
func Models() []any {
	return []any{&Account{}, &LedgerEntry{}, &GenerationJob{}, &AdminUser{}}
}
