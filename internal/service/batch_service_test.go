package service_test

import (
	"fmt"
	"testing"

	"chainpay/internal/database"
	"chainpay/internal/domain"
	"chainpay/internal/models"
	"chainpay/internal/repository"
	"chainpay/internal/service"

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

type batchEnv struct {
	db         *gorm.DB
	ledger     *repository.LedgerRepository
	migrations *repository.MigrationRepository
	svc        *service.BatchService
}

func newBatchEnv(t *testing.T) *batchEnv {
	t.Helper()
	db := newTestDB(t)
	users := repository.NewUserRepository(db)
	ledger := repository.NewLedgerRepository(db)
	batches := repository.NewBatchRepository(db)
	migrations := repository.NewMigrationRepository(db)
	return &batchEnv{
		db:         db,
		ledger:     ledger,
		migrations: migrations,
		svc:        service.NewBatchService(users, ledger, batches, migrations, 3),
	}
}

// seedUser creates a user with a wallet address and credits the given balance
// through the journal so balance and journal sum agree.
func (e *batchEnv) seedUser(t *testing.T, wallet string, balance int64) uint {
	t.Helper()
	u := &models.User{
		Username:      fmt.Sprintf("user-%s-%d", wallet, balance),
		Email:         fmt.Sprintf("%s-%d@test.local", wallet, balance),
		WalletAddress: wallet,
	}
	require.NoError(t, e.db.Create(u).Error)
	if balance > 0 {
		_, err := e.ledger.Apply(&models.JournalEntry{
			UserID:         u.ID,
			Direction:      domain.DirectionCredit,
			BalanceType:    domain.BalanceTypeMain,
			Amount:         decimal.NewFromInt(balance),
			IdempotencyKey: fmt.Sprintf("seed:%d", u.ID),
		})
		require.NoError(t, err)
	}
	return u.ID
}

func TestCreateBatch_MinimumAmountFiltersUsers(t *testing.T) {
	// Two eligible-looking users with balances 500 and 50, minimum 100:
	// only the 500-unit user gets a migration.
	env := newBatchEnv(t)
	rich := env.seedUser(t, "0xaaa1", 500)
	env.seedUser(t, "0xaaa2", 50)

	batch, err := env.svc.CreateBatch(1, nil, decimal.NewFromInt(100), "")
	require.NoError(t, err)
	assert.Equal(t, 1, batch.TotalUsers)
	assert.True(t, batch.TotalRequested.Equal(decimal.NewFromInt(500)))

	migrations, err := env.migrations.ListByBatch(batch.ID)
	require.NoError(t, err)
	require.Len(t, migrations, 1)
	assert.Equal(t, rich, migrations[0].UserID)
	assert.Equal(t, domain.MigrationStatusPending, migrations[0].Status)
	assert.True(t, migrations[0].AmountRequested.Equal(decimal.NewFromInt(500)))
	assert.True(t, migrations[0].SnapshotMatchesJournal)
}

func TestCreateBatch_MissingWalletExcluded(t *testing.T) {
	env := newBatchEnv(t)
	env.seedUser(t, "", 500)
	withWallet := env.seedUser(t, "0xbbb1", 500)

	batch, err := env.svc.CreateBatch(1, nil, decimal.NewFromInt(100), "")
	require.NoError(t, err)
	migrations, err := env.migrations.ListByBatch(batch.ID)
	require.NoError(t, err)
	require.Len(t, migrations, 1)
	assert.Equal(t, withWallet, migrations[0].UserID)
}

func TestCreateBatch_NoEligibleUsers(t *testing.T) {
	env := newBatchEnv(t)
	env.seedUser(t, "0xccc1", 50)

	_, err := env.svc.CreateBatch(1, nil, decimal.NewFromInt(100), "")
	assert.ErrorIs(t, err, service.ErrNoEligibleUsers)

	var count int64
	require.NoError(t, env.db.Model(&models.Batch{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "failed batch creation must write nothing")
}

func TestCreateBatch_SnapshotMismatchFlaggedButIncluded(t *testing.T) {
	env := newBatchEnv(t)
	userID := env.seedUser(t, "0xddd1", 500)

	// Corrupt the derived balance behind the journal's back; the builder
	// must flag the mismatch but still include the user.
	require.NoError(t, env.db.Model(&models.UserBalance{}).
		Where("user_id = ?", userID).
		Update("balance", decimal.NewFromInt(480)).Error)

	batch, err := env.svc.CreateBatch(1, nil, decimal.NewFromInt(100), "")
	require.NoError(t, err)
	migrations, err := env.migrations.ListByBatch(batch.ID)
	require.NoError(t, err)
	require.Len(t, migrations, 1)
	assert.False(t, migrations[0].SnapshotMatchesJournal)
	assert.True(t, migrations[0].SnapshotBalance.Equal(decimal.NewFromInt(480)))
	assert.True(t, migrations[0].JournalSumAtSnapshot.Equal(decimal.NewFromInt(500)))
}

func TestCreateBatch_ExplicitUserList(t *testing.T) {
	env := newBatchEnv(t)
	first := env.seedUser(t, "0xeee1", 500)
	env.seedUser(t, "0xeee2", 500)

	batch, err := env.svc.CreateBatch(1, []uint{first}, decimal.NewFromInt(100), "")
	require.NoError(t, err)
	assert.Equal(t, 1, batch.TotalUsers)
}

func TestCreateBatch_NotIdempotent(t *testing.T) {
	env := newBatchEnv(t)
	env.seedUser(t, "0xfff1", 500)

	first, err := env.svc.CreateBatch(1, nil, decimal.NewFromInt(100), "")
	require.NoError(t, err)
	second, err := env.svc.CreateBatch(1, nil, decimal.NewFromInt(100), "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.NotEqual(t, first.BatchNumber, second.BatchNumber)
}

func TestRefreshStatus_PureProjection(t *testing.T) {
	env := newBatchEnv(t)
	env.seedUser(t, "0xabc1", 500)
	env.seedUser(t, "0xabc2", 300)

	batch, err := env.svc.CreateBatch(1, nil, decimal.NewFromInt(100), "")
	require.NoError(t, err)

	once, err := env.svc.RefreshStatus(batch.ID)
	require.NoError(t, err)
	twice, err := env.svc.RefreshStatus(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, once.Status, twice.Status)
	assert.Equal(t, domain.BatchStatusPending, twice.Status)

	// Mark one migration completed and one failed: all terminal with a
	// failure present means PARTIAL.
	migrations, err := env.migrations.ListByBatch(batch.ID)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	require.NoError(t, env.db.Model(&models.Migration{}).Where("id = ?", migrations[0].ID).
		Update("status", domain.MigrationStatusCompleted).Error)
	require.NoError(t, env.db.Model(&models.Migration{}).Where("id = ?", migrations[1].ID).
		Update("status", domain.MigrationStatusFailed).Error)

	refreshed, err := env.svc.RefreshStatus(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusPartial, refreshed.Status)
	assert.NotNil(t, refreshed.CompletedAt)

	// Failure rolled back: terminal with no failures left means COMPLETED.
	require.NoError(t, env.db.Model(&models.Migration{}).Where("id = ?", migrations[1].ID).
		Update("status", domain.MigrationStatusRolledBack).Error)
	refreshed, err = env.svc.RefreshStatus(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BatchStatusCompleted, refreshed.Status)
}

func TestStatus_SummaryBuckets(t *testing.T) {
	env := newBatchEnv(t)
	env.seedUser(t, "0xsum1", 500)
	env.seedUser(t, "0xsum2", 300)
	env.seedUser(t, "0xsum3", 200)

	batch, err := env.svc.CreateBatch(1, nil, decimal.NewFromInt(100), "")
	require.NoError(t, err)
	migrations, err := env.migrations.ListByBatch(batch.ID)
	require.NoError(t, err)
	require.Len(t, migrations, 3)

	require.NoError(t, env.db.Model(&models.Migration{}).Where("id = ?", migrations[0].ID).
		Update("status", domain.MigrationStatusConfirming).Error)
	require.NoError(t, env.db.Model(&models.Migration{}).Where("id = ?", migrations[1].ID).
		Update("status", domain.MigrationStatusRolledBack).Error)

	status, err := env.svc.Status(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Summary.Pending)
	assert.Equal(t, int64(1), status.Summary.Processing)
	assert.Equal(t, int64(1), status.Summary.RolledBack)
	assert.Len(t, status.Migrations, 3)
	assert.Equal(t, domain.BatchStatusProcessing, status.Batch.Status)
}
