package repository_test

import (
	"testing"

	"chainpay/internal/database"
	"chainpay/internal/domain"
	"chainpay/internal/models"
	"chainpay/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(db))
	return db
}

func credit(userID uint, amount int64, key string) *models.JournalEntry {
	return &models.JournalEntry{
		UserID:         userID,
		Direction:      domain.DirectionCredit,
		BalanceType:    domain.BalanceTypeMain,
		Amount:         decimal.NewFromInt(amount),
		IdempotencyKey: key,
	}
}

func debit(userID uint, amount int64, key string) *models.JournalEntry {
	return &models.JournalEntry{
		UserID:         userID,
		Direction:      domain.DirectionDebit,
		BalanceType:    domain.BalanceTypeMain,
		Amount:         decimal.NewFromInt(amount),
		IdempotencyKey: key,
	}
}

func TestApply_CreditThenDebit(t *testing.T) {
	repo := repository.NewLedgerRepository(newTestDB(t))

	res, err := repo.Apply(credit(1, 500, "c-1"))
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)

	balance, err := repo.Balance(1, domain.BalanceTypeMain)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(500)), "balance = %s", balance)

	res, err = repo.Apply(debit(1, 200, "d-1"))
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)

	balance, err = repo.Balance(1, domain.BalanceTypeMain)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(300)), "balance = %s", balance)
}

func TestApply_SameKeyIsNoOp(t *testing.T) {
	db := newTestDB(t)
	repo := repository.NewLedgerRepository(db)

	_, err := repo.Apply(credit(1, 500, "c-1"))
	require.NoError(t, err)

	// Same key again: stored entry returned, nothing moves.
	res, err := repo.Apply(credit(1, 500, "c-1"))
	require.NoError(t, err)
	assert.True(t, res.AlreadyApplied)

	balance, err := repo.Balance(1, domain.BalanceTypeMain)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(500)), "balance = %s", balance)

	var count int64
	require.NoError(t, db.Model(&models.JournalEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestApply_DebitPastZeroRejected(t *testing.T) {
	repo := repository.NewLedgerRepository(newTestDB(t))

	_, err := repo.Apply(credit(1, 100, "c-1"))
	require.NoError(t, err)

	_, err = repo.Apply(debit(1, 150, "d-1"))
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)

	// Rejected debit leaves no journal entry behind.
	entry, err := repo.EntryByKey("d-1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	balance, err := repo.Balance(1, domain.BalanceTypeMain)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)), "balance = %s", balance)
}

func TestApply_DebitWithNoBalanceRowRejected(t *testing.T) {
	repo := repository.NewLedgerRepository(newTestDB(t))

	_, err := repo.Apply(debit(9, 1, "d-9"))
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)
}

func TestJournalSum_SignedByDirection(t *testing.T) {
	repo := repository.NewLedgerRepository(newTestDB(t))

	_, err := repo.Apply(credit(1, 500, "c-1"))
	require.NoError(t, err)
	_, err = repo.Apply(credit(1, 100, "c-2"))
	require.NoError(t, err)
	_, err = repo.Apply(debit(1, 250, "d-1"))
	require.NoError(t, err)

	sum, err := repo.JournalSum(1, domain.BalanceTypeMain)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(350)), "sum = %s", sum)

	balance, err := repo.Balance(1, domain.BalanceTypeMain)
	require.NoError(t, err)
	assert.True(t, balance.Equal(sum), "balance %s should equal journal sum %s", balance, sum)
}

func TestBalance_ZeroWithoutRow(t *testing.T) {
	repo := repository.NewLedgerRepository(newTestDB(t))

	balance, err := repo.Balance(42, domain.BalanceTypeMain)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}
