package service

import (
	"errors"
	"fmt"
	"log"
	"time"

	"chainpay/internal/domain"
	"chainpay/internal/metrics"
	"chainpay/internal/models"
	"chainpay/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrNoEligibleUsers = errors.New("no eligible users for batch")

type BatchService struct {
	users      *repository.UserRepository
	ledger     *repository.LedgerRepository
	batches    *repository.BatchRepository
	migrations *repository.MigrationRepository
	maxRetries int
}

func NewBatchService(
	users *repository.UserRepository,
	ledger *repository.LedgerRepository,
	batches *repository.BatchRepository,
	migrations *repository.MigrationRepository,
	maxRetries int,
) *BatchService {
	return &BatchService{
		users:      users,
		ledger:     ledger,
		batches:    batches,
		migrations: migrations,
		maxRetries: maxRetries,
	}
}

// CreateBatch scans the candidate users (all users when userIDs is empty),
// snapshots balances and addresses for the eligible ones, and writes one
// batch plus one pending migration per user. Deliberately not idempotent:
// batch creation is an explicit admin action, and calling it twice creates
// two batches.
func (s *BatchService) CreateBatch(adminID uint, userIDs []uint, minAmount decimal.Decimal, notes string) (*models.Batch, error) {
	candidates, err := s.users.List(userIDs)
	if err != nil {
		return nil, fmt.Errorf("user scan failed: %w", err)
	}

	batchNumber := fmt.Sprintf("MB-%s-%s", time.Now().UTC().Format("20060102"), uuid.New().String()[:8])

	var migrations []models.Migration
	total := decimal.Zero
	for _, u := range candidates {
		if u.WalletAddress == "" {
			continue
		}
		balance, err := s.ledger.Balance(u.ID, domain.BalanceTypeMain)
		if err != nil {
			return nil, fmt.Errorf("balance read for user %d failed: %w", u.ID, err)
		}
		if balance.LessThan(minAmount) {
			continue
		}
		journalSum, err := s.ledger.JournalSum(u.ID, domain.BalanceTypeMain)
		if err != nil {
			return nil, fmt.Errorf("journal sum for user %d failed: %w", u.ID, err)
		}
		matches := balance.Equal(journalSum)
		if !matches {
			// A mismatch signals an upstream bug to investigate, not a reason
			// to exclude the user's funds.
			log.Printf("[Batch] user %d snapshot %s != journal sum %s; flagged for reconciliation", u.ID, balance, journalSum)
		}
		migrations = append(migrations, models.Migration{
			UserID:                 u.ID,
			DestinationAddress:     u.WalletAddress,
			SnapshotBalance:        balance,
			AmountRequested:        balance,
			JournalSumAtSnapshot:   journalSum,
			SnapshotMatchesJournal: matches,
			Status:                 domain.MigrationStatusPending,
			IdempotencyKey:         fmt.Sprintf("batch:%s:user:%d", batchNumber, u.ID),
			MaxRetries:             s.maxRetries,
		})
		total = total.Add(balance)
	}
	if len(migrations) == 0 {
		return nil, ErrNoEligibleUsers
	}

	batch := &models.Batch{
		BatchNumber:    batchNumber,
		InitiatedBy:    adminID,
		Status:         domain.BatchStatusPending,
		TotalUsers:     len(migrations),
		TotalRequested: total,
		MinimumAmount:  minAmount,
		Notes:          notes,
	}
	if err := s.batches.CreateWithMigrations(batch, migrations); err != nil {
		return nil, fmt.Errorf("batch create failed: %w", err)
	}
	metrics.BatchesCreated.Inc()
	log.Printf("[Batch] created %s: %d users, %s requested", batchNumber, batch.TotalUsers, total)
	return batch, nil
}

// RefreshStatus re-derives the batch counters and status from its migrations'
// current states. Pure projection: recomputing it twice without intervening
// migration changes yields the same result, so it is safe after every
// transition.
func (s *BatchService) RefreshStatus(batchID uint) (*models.Batch, error) {
	batch, err := s.batches.GetByID(batchID)
	if err != nil {
		return nil, err
	}
	counts, err := s.migrations.CountByStatus(batchID)
	if err != nil {
		return nil, err
	}
	var total, terminal int64
	for status, n := range counts {
		total += n
		if domain.MigrationTerminal(status) {
			terminal += n
		}
	}

	status := domain.BatchStatusProcessing
	switch {
	case counts[domain.MigrationStatusPending] == total:
		status = domain.BatchStatusPending
	case terminal == total && counts[domain.MigrationStatusFailed] == 0:
		status = domain.BatchStatusCompleted
	case terminal == total:
		status = domain.BatchStatusPartial
	}

	fields := map[string]interface{}{"status": status}
	if (status == domain.BatchStatusCompleted || status == domain.BatchStatusPartial) && batch.CompletedAt == nil {
		now := time.Now()
		fields["completed_at"] = &now
	}
	if err := s.batches.UpdateFields(batchID, fields); err != nil {
		return nil, err
	}
	return s.batches.GetByID(batchID)
}

// BatchSummary counts migrations per reporting bucket; the in-flight saga
// states collapse into Processing.
type BatchSummary struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	RolledBack int64 `json:"rolled_back"`
}

type BatchStatus struct {
	Batch      models.Batch       `json:"batch"`
	Migrations []models.Migration `json:"migrations"`
	Summary    BatchSummary       `json:"summary"`
}

// Status refreshes the batch projection and returns it with the migrations
// and the per-status summary.
func (s *BatchService) Status(batchID uint) (*BatchStatus, error) {
	batch, err := s.RefreshStatus(batchID)
	if err != nil {
		return nil, err
	}
	migrations, err := s.migrations.ListByBatch(batchID)
	if err != nil {
		return nil, err
	}
	var summary BatchSummary
	for _, m := range migrations {
		switch m.Status {
		case domain.MigrationStatusPending:
			summary.Pending++
		case domain.MigrationStatusCompleted:
			summary.Completed++
		case domain.MigrationStatusFailed:
			summary.Failed++
		case domain.MigrationStatusRolledBack:
			summary.RolledBack++
		default:
			summary.Processing++
		}
	}
	return &BatchStatus{Batch: *batch, Migrations: migrations, Summary: summary}, nil
}

func (s *BatchService) List(page, limit int) ([]models.Batch, int64, error) {
	return s.batches.List(page, limit)
}
