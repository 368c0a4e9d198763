package repository

import (
	"errors"

	"chainpay/internal/domain"
	"chainpay/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance = errors.New("insufficient ledger balance")
	ErrUnknownDirection    = errors.New("unknown journal direction")
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ApplyResult reports whether the entry was applied now or had already been
// applied under the same idempotency key by an earlier invocation.
type ApplyResult struct {
	Entry          models.JournalEntry
	AlreadyApplied bool
}

// Apply appends a journal entry and moves the derived balance in one database
// transaction. Re-applying an idempotency key returns the stored entry with
// AlreadyApplied set and mutates nothing. A debit only applies if the current
// balance covers the amount; the balance check and the decrement are a single
// conditional UPDATE, so no concurrent reader can debit past zero.
func (r *LedgerRepository) Apply(entry *models.JournalEntry) (*ApplyResult, error) {
	var result ApplyResult
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing models.JournalEntry
		err := tx.Where("idempotency_key = ?", entry.IdempotencyKey).First(&existing).Error
		if err == nil {
			result = ApplyResult{Entry: existing, AlreadyApplied: true}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := ensureBalanceRow(tx, entry.UserID, entry.BalanceType); err != nil {
			return err
		}

		switch entry.Direction {
		case domain.DirectionDebit:
			res := tx.Model(&models.UserBalance{}).
				Where("user_id = ? AND balance_type = ? AND balance >= ?", entry.UserID, entry.BalanceType, entry.Amount).
				Update("balance", gorm.Expr("balance - ?", entry.Amount))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrInsufficientBalance
			}
		case domain.DirectionCredit:
			res := tx.Model(&models.UserBalance{}).
				Where("user_id = ? AND balance_type = ?", entry.UserID, entry.BalanceType).
				Update("balance", gorm.Expr("balance + ?", entry.Amount))
			if res.Error != nil {
				return res.Error
			}
		default:
			return ErrUnknownDirection
		}

		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		result = ApplyResult{Entry: *entry}
		return nil
	})
	if err != nil {
		// A duplicate-key rollback means the entry exists now; surface it as
		// already applied rather than an error.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing models.JournalEntry
			if lookupErr := r.db.Where("idempotency_key = ?", entry.IdempotencyKey).First(&existing).Error; lookupErr == nil {
				return &ApplyResult{Entry: existing, AlreadyApplied: true}, nil
			}
		}
		return nil, err
	}
	return &result, nil
}

func ensureBalanceRow(tx *gorm.DB, userID uint, balanceType string) error {
	return tx.Where(models.UserBalance{UserID: userID, BalanceType: balanceType}).
		FirstOrCreate(&models.UserBalance{UserID: userID, BalanceType: balanceType, Balance: decimal.Zero}).Error
}

// Balance returns the derived balance, zero if the user has no row yet.
func (r *LedgerRepository) Balance(userID uint, balanceType string) (decimal.Decimal, error) {
	var row models.UserBalance
	err := r.db.Where("user_id = ? AND balance_type = ?", userID, balanceType).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return row.Balance, nil
}

// JournalSum returns the signed sum of applied entries (credits positive,
// debits negative). The batch builder compares this to the live balance.
func (r *LedgerRepository) JournalSum(userID uint, balanceType string) (decimal.Decimal, error) {
	var out struct{ Total decimal.Decimal }
	err := r.db.Model(&models.JournalEntry{}).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount ELSE -amount END), 0) as total", domain.DirectionCredit).
		Where("user_id = ? AND balance_type = ?", userID, balanceType).
		Scan(&out).Error
	if err != nil {
		return decimal.Zero, err
	}
	return out.Total, nil
}

// EntryByKey returns the entry for an idempotency key, or nil when absent.
func (r *LedgerRepository) EntryByKey(key string) (*models.JournalEntry, error) {
	var entry models.JournalEntry
	err := r.db.Where("idempotency_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
