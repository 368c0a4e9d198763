package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserBalance is the derived balance row for one user/balance-type. It must
// always equal the signed sum of applied journal entries for that pair; the
// batch builder cross-checks this at snapshot time.
type UserBalance struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      uint            `gorm:"not null;uniqueIndex:idx_user_balance_type" json:"user_id"`
	BalanceType string          `gorm:"size:20;not null;uniqueIndex:idx_user_balance_type" json:"balance_type"`
	Balance     decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"balance"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

func (UserBalance) TableName() string {
	return "user_balances"
}

// JournalEntry is an append-only balance change. Entries are never updated or
// deleted; re-applying the same idempotency key is a no-op returning the
// stored entry.
type JournalEntry struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UserID         uint            `gorm:"not null;index" json:"user_id"`
	Direction      string          `gorm:"size:10;not null" json:"direction"` // CREDIT | DEBIT
	BalanceType    string          `gorm:"size:20;not null;index" json:"balance_type"`
	Amount         decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`
	IdempotencyKey string          `gorm:"size:128;uniqueIndex;not null" json:"idempotency_key"`
	Metadata       string          `gorm:"size:512" json:"metadata"` // JSON
	CreatedAt      time.Time       `json:"created_at"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

func (JournalEntry) TableName() string {
	return "journal_entries"
}
