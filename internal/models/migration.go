package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Migration is one user's transfer from the internal ledger to their on-chain
// address. One row per (batch, user); the status walks the saga states and
// the row is kept forever as the audit trail, including after failure.
type Migration struct {
	ID                     uint            `gorm:"primaryKey" json:"id"`
	BatchID                uint            `gorm:"not null;index" json:"batch_id"`
	UserID                 uint            `gorm:"not null;index" json:"user_id"`
	DestinationAddress     string          `gorm:"size:64;not null" json:"destination_address"`
	SnapshotBalance        decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"snapshot_balance"`
	AmountRequested        decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount_requested"`
	JournalSumAtSnapshot   decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"journal_sum_at_snapshot"`
	SnapshotMatchesJournal bool            `gorm:"not null" json:"snapshot_matches_journal"`
	Status                 string          `gorm:"size:20;not null;index" json:"status"`
	IdempotencyKey         string          `gorm:"size:128;uniqueIndex;not null" json:"idempotency_key"`
	RetryCount             int             `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries             int             `gorm:"not null" json:"max_retries"`
	FeeRateWei             decimal.Decimal `gorm:"type:decimal(36,0);not null;default:0" json:"fee_rate_wei"` // gas price snapshot at costing
	FeeDeduction           decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"fee_deduction"`
	NetAmount              decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"net_amount"`
	TxHash                 *string         `gorm:"size:80;index" json:"tx_hash"`
	BlockNumber            *uint64         `json:"block_number"`
	FeeUsed                *decimal.Decimal `gorm:"type:decimal(36,18)" json:"fee_used"`
	ErrorMessage           string          `gorm:"size:512" json:"error_message"`
	DebitedAt              *time.Time      `json:"debited_at"`
	BroadcastAt            *time.Time      `json:"broadcast_at"`
	ConfirmedAt            *time.Time      `json:"confirmed_at"`
	CompletedAt            *time.Time      `json:"completed_at"`
	FailedAt               *time.Time      `json:"failed_at"`
	RolledBackAt           *time.Time      `json:"rolled_back_at"`
	AdminNotes             string          `gorm:"size:512" json:"admin_notes"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`

	Batch Batch `gorm:"foreignKey:BatchID" json:"-"`
	User  User  `gorm:"foreignKey:UserID" json:"-"`
}

func (Migration) TableName() string {
	return "migrations"
}

// DebitKey is the deterministic idempotency key for this migration's single
// allowed ledger debit.
func (m *Migration) DebitKey() string {
	return m.IdempotencyKey + ":debit"
}

// RollbackKey is the deterministic idempotency key for the compensating
// credit. Distinct from DebitKey so journal application stays independent of
// saga bookkeeping.
func (m *Migration) RollbackKey() string {
	return m.IdempotencyKey + ":rollback"
}
