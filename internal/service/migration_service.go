package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"chainpay/config"
	"chainpay/internal/domain"
	"chainpay/internal/metrics"
	"chainpay/internal/models"
	"chainpay/internal/repository"
	"chainpay/internal/ws"
	"chainpay/pkg/chain"
	"chainpay/pkg/rates"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidStatus             = errors.New("migration is not in a valid status for this operation")
	ErrConcurrentProcess         = errors.New("migration is being processed by another caller")
	ErrInsufficientBalance       = errors.New("live balance below requested amount")
	ErrFeeEstimateFailed         = errors.New("fee estimation failed")
	ErrNetAmountTooLow           = errors.New("net amount after fee deduction below viability floor")
	ErrDebitFailed               = errors.New("ledger debit failed")
	ErrOperatorInsufficientFunds = errors.New("operator on-chain balance cannot cover transfer")
	ErrTransactionFailed         = errors.New("transaction broadcast failed")
	ErrTransactionReverted       = errors.New("transaction reverted on chain")
	ErrConfirmationTimeout       = errors.New("confirmation timed out; outcome unknown, check the chain before retrying or rolling back")
	ErrBroadcastUnknown          = errors.New("broadcast outcome unknown; check the chain before retrying or rolling back")
	ErrRetryLimitExceeded        = errors.New("retry limit exceeded")
)

// Notifier receives a progress event after every migration transition.
type Notifier interface {
	BroadcastBatch(event ws.BatchEvent)
}

// MigrationService is the saga driving one migration through
// validate → debit → sign → broadcast → confirm. It holds no state of its
// own: everything lives in the store, so any process instance can resume any
// migration, and every step is individually idempotent.
type MigrationService struct {
	migrations *repository.MigrationRepository
	ledger     *repository.LedgerRepository
	batchSvc   *BatchService
	chain      chain.Client
	rates      rates.Provider
	saga       config.SagaConfig
	decimals   int32
	gasLimit   uint64
	notifier   Notifier
}

func NewMigrationService(
	migrations *repository.MigrationRepository,
	ledger *repository.LedgerRepository,
	batchSvc *BatchService,
	chainClient chain.Client,
	rateProvider rates.Provider,
	saga config.SagaConfig,
	chainCfg config.ChainConfig,
	notifier Notifier,
) *MigrationService {
	return &MigrationService{
		migrations: migrations,
		ledger:     ledger,
		batchSvc:   batchSvc,
		chain:      chainClient,
		rates:      rateProvider,
		saga:       saga,
		decimals:   chainCfg.TokenDecimals,
		gasLimit:   chainCfg.GasLimit,
		notifier:   notifier,
	}
}

// ProcessResult reports what a completed migration moved.
type ProcessResult struct {
	MigrationID          uint            `json:"migration_id"`
	TxHash               string          `json:"tx_hash"`
	BlockNumber          uint64          `json:"block_number"`
	AmountDebited        decimal.Decimal `json:"amount_debited"`
	NetAmountTransferred decimal.Decimal `json:"net_amount_transferred"`
}

// Process advances a migration from its current state to completion or
// failure. Safe to call repeatedly: a crash between steps leaves a state from
// which re-invocation resumes, and a concurrent call on the same migration
// loses the status guard and returns ErrConcurrentProcess instead of causing
// a double debit or double broadcast.
func (s *MigrationService) Process(ctx context.Context, migrationID uint) (*ProcessResult, error) {
	for {
		m, err := s.migrations.GetByID(migrationID)
		if err != nil {
			return nil, err
		}
		switch m.Status {
		case domain.MigrationStatusCompleted:
			return resultFromRow(m), nil
		case domain.MigrationStatusFailed:
			return nil, fmt.Errorf("migration %d failed (%s): %w; retry or roll back explicitly", m.ID, m.ErrorMessage, ErrInvalidStatus)
		case domain.MigrationStatusRolledBack:
			return nil, fmt.Errorf("migration %d already rolled back: %w", m.ID, ErrInvalidStatus)
		case domain.MigrationStatusPending:
			err = s.stepValidate(m)
		case domain.MigrationStatusValidating:
			err = s.stepCost(ctx, m)
		case domain.MigrationStatusDebiting:
			err = s.stepDebit(m)
		case domain.MigrationStatusSigning:
			err = s.stepBroadcast(ctx, m)
		case domain.MigrationStatusBroadcasting:
			err = s.stepResumeBroadcast(m)
		case domain.MigrationStatusConfirming:
			err = s.stepConfirm(ctx, m)
		default:
			return nil, fmt.Errorf("migration %d in unexpected status %s: %w", m.ID, m.Status, ErrInvalidStatus)
		}
		if err != nil {
			return nil, err
		}
	}
}

// Retry resets a failed migration to pending and re-runs the saga. Bounded by
// max_retries; the retry that would exceed the limit mutates nothing. Because
// every step is idempotent the saga resumes rather than restarts: an already
// debited migration is not debited twice.
func (s *MigrationService) Retry(ctx context.Context, migrationID uint) (*ProcessResult, error) {
	m, err := s.migrations.GetByID(migrationID)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.MigrationStatusFailed {
		return nil, fmt.Errorf("migration %d is %s: %w", m.ID, m.Status, ErrInvalidStatus)
	}
	if m.RetryCount >= m.MaxRetries {
		return nil, fmt.Errorf("migration %d at %d/%d retries: %w", m.ID, m.RetryCount, m.MaxRetries, ErrRetryLimitExceeded)
	}
	ok, err := s.migrations.Transition(m.ID, domain.MigrationStatusFailed, domain.MigrationStatusPending, map[string]interface{}{
		"retry_count":   m.RetryCount + 1,
		"error_message": "",
		"failed_at":     nil,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("migration %d: %w", m.ID, ErrConcurrentProcess)
	}
	metrics.MigrationsProcessed.WithLabelValues("retried").Inc()
	s.afterTransition(m, domain.MigrationStatusPending, "")
	return s.Process(ctx, migrationID)
}

// Rollback applies the compensating credit for a failed migration and marks
// it rolled back. Idempotent: a second call credits nothing. Never automatic,
// because a failure after broadcast may still confirm on chain, and crediting
// the ledger back while the transfer lands would double-spend.
func (s *MigrationService) Rollback(ctx context.Context, migrationID uint) error {
	m, err := s.migrations.GetByID(migrationID)
	if err != nil {
		return err
	}
	if m.Status == domain.MigrationStatusRolledBack {
		return nil
	}
	if m.Status != domain.MigrationStatusFailed {
		return fmt.Errorf("migration %d is %s: %w", m.ID, m.Status, ErrInvalidStatus)
	}

	debit, err := s.ledger.EntryByKey(m.DebitKey())
	if err != nil {
		return fmt.Errorf("rollback lookup failed: %w", err)
	}
	if debit != nil {
		// Compensating credit for the full requested amount, under its own
		// deterministic key so the credit applies at most once.
		res, err := s.ledger.Apply(&models.JournalEntry{
			UserID:         m.UserID,
			Direction:      domain.DirectionCredit,
			BalanceType:    domain.BalanceTypeMain,
			Amount:         m.AmountRequested,
			IdempotencyKey: m.RollbackKey(),
			Metadata:       fmt.Sprintf(`{"batch_id":%d,"migration_id":%d,"reason":"rollback"}`, m.BatchID, m.ID),
		})
		if err != nil {
			return fmt.Errorf("rollback credit failed: %w", err)
		}
		if !res.AlreadyApplied {
			metrics.JournalEntries.WithLabelValues(domain.DirectionCredit).Inc()
		}
	}

	now := time.Now()
	ok, err := s.migrations.Transition(m.ID, domain.MigrationStatusFailed, domain.MigrationStatusRolledBack, map[string]interface{}{
		"rolled_back_at": &now,
	})
	if err != nil {
		return err
	}
	if !ok {
		current, err := s.migrations.GetByID(m.ID)
		if err == nil && current.Status == domain.MigrationStatusRolledBack {
			return nil
		}
		return fmt.Errorf("migration %d: %w", m.ID, ErrConcurrentProcess)
	}
	metrics.MigrationsProcessed.WithLabelValues("rolled_back").Inc()
	log.Printf("[Saga] migration %d rolled back; %s re-credited", m.ID, m.AmountRequested)
	s.afterTransition(m, domain.MigrationStatusRolledBack, "")
	return nil
}

// stepValidate re-reads the live balance: it can have moved between batch
// creation and processing. Skipped when the debit already applied (retry
// after a post-debit failure), since the live balance no longer includes the
// requested amount.
func (s *MigrationService) stepValidate(m *models.Migration) error {
	ok, err := s.migrations.Transition(m.ID, domain.MigrationStatusPending, domain.MigrationStatusValidating, nil)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("migration %d: %w", m.ID, ErrConcurrentProcess)
	}
	s.afterTransition(m, domain.MigrationStatusValidating, "")

	debited, err := s.alreadyDebited(m)
	if err != nil {
		return err
	}
	if debited {
		return nil
	}
	balance, err := s.ledger.Balance(m.UserID, domain.BalanceTypeMain)
	if err != nil {
		// Store read error: leave the row in VALIDATING for a clean
		// re-invocation. The atomic debit re-checks the balance anyway.
		return fmt.Errorf("migration %d balance read failed: %w", m.ID, err)
	}
	if balance.LessThan(m.AmountRequested) {
		return s.fail(m, domain.MigrationStatusValidating, ErrInsufficientBalance,
			fmt.Sprintf("live balance %s below requested %s", balance, m.AmountRequested), nil)
	}
	return nil
}

// stepCost sizes the fee reserve: estimated gas cost converted to ledger
// units through the rate provider, padded by the safety margin for price
// movement between estimate and broadcast. The fee is borne from the
// requested amount, never invented separately.
func (s *MigrationService) stepCost(ctx context.Context, m *models.Migration) error {
	debited, err := s.alreadyDebited(m)
	if err != nil {
		return err
	}
	if debited {
		// Fee locked in when the debit applied; keep the recorded figures.
		return s.transitionOrRace(m, domain.MigrationStatusValidating, domain.MigrationStatusDebiting, nil)
	}

	gasPrice, err := s.chain.SuggestGasPrice(ctx)
	if err != nil {
		return s.fail(m, domain.MigrationStatusValidating, ErrFeeEstimateFailed, fmt.Sprintf("gas price query failed: %v", err), nil)
	}
	rate, err := s.rates.LedgerPerNative(ctx)
	if err != nil {
		return s.fail(m, domain.MigrationStatusValidating, ErrFeeEstimateFailed, fmt.Sprintf("rate query failed: %v", err), nil)
	}

	gasPriceDec := decimal.NewFromBigInt(gasPrice, 0)
	feeNative := gasPriceDec.Mul(decimal.NewFromInt(int64(s.gasLimit))).Shift(-18) // wei -> native coin
	margin := decimal.NewFromInt(100 + s.saga.FeeMarginPercent).Div(decimal.NewFromInt(100))
	fee := feeNative.Mul(rate).Mul(margin).Round(18)
	net := m.AmountRequested.Sub(fee)

	fields := map[string]interface{}{
		"fee_rate_wei":  gasPriceDec,
		"fee_deduction": fee,
		"net_amount":    net,
	}
	if net.LessThan(s.saga.NetAmountFloor) {
		return s.fail(m, domain.MigrationStatusValidating, ErrNetAmountTooLow,
			fmt.Sprintf("net %s after fee %s below floor %s", net, fee, s.saga.NetAmountFloor), fields)
	}
	return s.transitionOrRace(m, domain.MigrationStatusValidating, domain.MigrationStatusDebiting, fields)
}

// stepDebit applies the single allowed ledger debit for the full requested
// amount. A key already applied means an earlier invocation got here first;
// that is resumption, not an error.
func (s *MigrationService) stepDebit(m *models.Migration) error {
	res, err := s.ledger.Apply(&models.JournalEntry{
		UserID:         m.UserID,
		Direction:      domain.DirectionDebit,
		BalanceType:    domain.BalanceTypeMain,
		Amount:         m.AmountRequested,
		IdempotencyKey: m.DebitKey(),
		Metadata:       fmt.Sprintf(`{"batch_id":%d,"migration_id":%d,"reason":"migration"}`, m.BatchID, m.ID),
	})
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return s.fail(m, domain.MigrationStatusDebiting, ErrDebitFailed,
				fmt.Sprintf("balance moved below %s before debit", m.AmountRequested), nil)
		}
		return s.fail(m, domain.MigrationStatusDebiting, ErrDebitFailed, fmt.Sprintf("journal apply failed: %v", err), nil)
	}
	if !res.AlreadyApplied {
		metrics.JournalEntries.WithLabelValues(domain.DirectionDebit).Inc()
	}

	fields := map[string]interface{}{}
	if m.DebitedAt == nil {
		now := time.Now()
		fields["debited_at"] = &now
	}
	return s.transitionOrRace(m, domain.MigrationStatusDebiting, domain.MigrationStatusSigning, fields)
}

// stepBroadcast hands the transfer to the signer. The operator balance check
// failing does NOT roll back the debit: funds already left the ledger and
// only an admin decision moves them again.
func (s *MigrationService) stepBroadcast(ctx context.Context, m *models.Migration) error {
	baseUnits := m.NetAmount.Shift(s.decimals).BigInt()
	operatorBalance, err := s.chain.OperatorBalance(ctx)
	if err != nil {
		return s.fail(m, domain.MigrationStatusSigning, ErrTransactionFailed, fmt.Sprintf("operator balance query failed: %v", err), nil)
	}
	if operatorBalance.Cmp(baseUnits) < 0 {
		return s.fail(m, domain.MigrationStatusSigning, ErrOperatorInsufficientFunds,
			fmt.Sprintf("operator holds %s base units, transfer needs %s", operatorBalance, baseUnits), nil)
	}

	// Mark the send attempt before broadcasting, so a crash inside SendToken
	// leaves BROADCASTING with no hash and resumption refuses to rebroadcast.
	if err := s.transitionOrRace(m, domain.MigrationStatusSigning, domain.MigrationStatusBroadcasting, nil); err != nil {
		return err
	}

	txHash, err := s.chain.SendToken(ctx, m.DestinationAddress, baseUnits)
	if err != nil {
		return s.fail(m, domain.MigrationStatusBroadcasting, ErrTransactionFailed, fmt.Sprintf("broadcast failed: %v", err), nil)
	}
	now := time.Now()
	fields := map[string]interface{}{
		"tx_hash":      txHash,
		"broadcast_at": &now,
	}
	// A retry after a confirmation timeout reaches here with the first
	// attempt's hash still recorded; keep it on the row before overwriting.
	if m.TxHash != nil && *m.TxHash != "" && *m.TxHash != txHash {
		note := fmt.Sprintf("superseded tx %s", *m.TxHash)
		if m.AdminNotes != "" {
			note = m.AdminNotes + "; " + note
		}
		fields["admin_notes"] = note
	}
	return s.transitionOrRace(m, domain.MigrationStatusBroadcasting, domain.MigrationStatusConfirming, fields)
}

// stepResumeBroadcast handles a migration found in BROADCASTING by a fresh
// invocation. With a recorded hash the send completed and confirmation can
// proceed; without one the send's outcome is unknown and rebroadcasting could
// double-spend, so the migration fails for manual inspection.
func (s *MigrationService) stepResumeBroadcast(m *models.Migration) error {
	if m.TxHash != nil && *m.TxHash != "" {
		return s.transitionOrRace(m, domain.MigrationStatusBroadcasting, domain.MigrationStatusConfirming, nil)
	}
	return s.fail(m, domain.MigrationStatusBroadcasting, ErrBroadcastUnknown,
		"interrupted during broadcast with no recorded tx hash", nil)
}

// stepConfirm waits for the receipt with a bounded, backing-off poll. A
// revert is a clean failure; running out of time is explicitly not, because
// the transaction may still land, so the timeout carries the outcome-unknown
// marker steering the admin to check the chain first.
func (s *MigrationService) stepConfirm(ctx context.Context, m *models.Migration) error {
	if m.TxHash == nil || *m.TxHash == "" {
		return s.fail(m, domain.MigrationStatusConfirming, ErrBroadcastUnknown, "confirming with no recorded tx hash", nil)
	}
	metrics.ConfirmationsInFlight.Inc()
	defer metrics.ConfirmationsInFlight.Dec()

	deadline := time.Now().Add(s.saga.ConfirmTimeout)
	interval := s.saga.ConfirmInterval
	for {
		receipt, err := s.chain.TransactionReceipt(ctx, *m.TxHash)
		if err == nil {
			return s.finalize(ctx, m, receipt)
		}
		if !errors.Is(err, chain.ErrReceiptNotFound) {
			// Transient node errors should not fail a migration whose
			// transfer may already be mined; keep polling until the deadline.
			log.Printf("[Saga] migration %d receipt poll error: %v", m.ID, err)
		}
		if time.Now().After(deadline) {
			return s.fail(m, domain.MigrationStatusConfirming, ErrConfirmationTimeout,
				fmt.Sprintf("no confirmation for %s after %s; outcome unknown, manual check required", *m.TxHash, s.saga.ConfirmTimeout), nil)
		}
		select {
		case <-ctx.Done():
			return s.fail(m, domain.MigrationStatusConfirming, ErrConfirmationTimeout,
				fmt.Sprintf("confirmation wait cancelled for %s; outcome unknown, manual check required", *m.TxHash), nil)
		case <-time.After(interval):
		}
		if interval *= 2; interval > 30*time.Second {
			interval = 30 * time.Second
		}
	}
}

func (s *MigrationService) finalize(ctx context.Context, m *models.Migration, receipt *chain.Receipt) error {
	if receipt.Reverted() {
		return s.fail(m, domain.MigrationStatusConfirming, ErrTransactionReverted,
			fmt.Sprintf("transaction %s reverted in block %d", receipt.TxHash, receipt.BlockNumber), nil)
	}
	feeUsed := s.actualFee(ctx, m, receipt)
	now := time.Now()
	err := s.transitionOrRace(m, domain.MigrationStatusConfirming, domain.MigrationStatusCompleted, map[string]interface{}{
		"block_number": receipt.BlockNumber,
		"fee_used":     feeUsed,
		"confirmed_at": &now,
		"completed_at": &now,
	})
	if err != nil {
		return err
	}
	metrics.MigrationsProcessed.WithLabelValues("completed").Inc()
	log.Printf("[Saga] migration %d completed: tx=%s block=%d net=%s fee=%s", m.ID, receipt.TxHash, receipt.BlockNumber, m.NetAmount, feeUsed)
	return nil
}

// actualFee converts the fee the chain actually charged into ledger units.
// If it exceeds the padded estimate the operator absorbs the overage rather
// than re-debiting the user, so this figure is recorded for accounting only.
func (s *MigrationService) actualFee(ctx context.Context, m *models.Migration, receipt *chain.Receipt) decimal.Decimal {
	rate, err := s.rates.LedgerPerNative(ctx)
	if err != nil {
		log.Printf("[Saga] fee conversion rate unavailable, recording estimated fee: %v", err)
		return m.FeeDeduction
	}
	return decimal.NewFromBigInt(receipt.FeeWei(), 0).Shift(-18).Mul(rate).Round(18)
}

func (s *MigrationService) alreadyDebited(m *models.Migration) (bool, error) {
	entry, err := s.ledger.EntryByKey(m.DebitKey())
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

func (s *MigrationService) transitionOrRace(m *models.Migration, from, to string, fields map[string]interface{}) error {
	ok, err := s.migrations.Transition(m.ID, from, to, fields)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("migration %d: %w", m.ID, ErrConcurrentProcess)
	}
	s.afterTransition(m, to, "")
	return nil
}

// fail records the error on the migration and re-throws the typed sentinel.
// Nothing is silently swallowed: the message lands in error_message and the
// caller gets the structured error.
func (s *MigrationService) fail(m *models.Migration, from string, sentinel error, msg string, extra map[string]interface{}) error {
	now := time.Now()
	fields := map[string]interface{}{
		"error_message": msg,
		"failed_at":     &now,
	}
	for k, v := range extra {
		fields[k] = v
	}
	ok, err := s.migrations.Transition(m.ID, from, domain.MigrationStatusFailed, fields)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("migration %d: %w", m.ID, ErrConcurrentProcess)
	}
	metrics.MigrationsProcessed.WithLabelValues("failed").Inc()
	log.Printf("[Saga] migration %d failed at %s: %s", m.ID, from, msg)
	s.afterTransition(m, domain.MigrationStatusFailed, msg)
	return fmt.Errorf("migration %d: %s: %w", m.ID, msg, sentinel)
}

// afterTransition recomputes the batch projection and pushes a progress
// event. Both are best-effort; the migration row is already durable.
func (s *MigrationService) afterTransition(m *models.Migration, status, errMsg string) {
	batchStatus := ""
	if batch, err := s.batchSvc.RefreshStatus(m.BatchID); err != nil {
		log.Printf("[Saga] batch %d refresh failed: %v", m.BatchID, err)
	} else {
		batchStatus = batch.Status
	}
	if s.notifier != nil {
		s.notifier.BroadcastBatch(ws.BatchEvent{
			BatchID:     m.BatchID,
			MigrationID: m.ID,
			UserID:      m.UserID,
			Status:      status,
			BatchStatus: batchStatus,
			Error:       errMsg,
		})
	}
}

func resultFromRow(m *models.Migration) *ProcessResult {
	res := &ProcessResult{
		MigrationID:          m.ID,
		AmountDebited:        m.AmountRequested,
		NetAmountTransferred: m.NetAmount,
	}
	if m.TxHash != nil {
		res.TxHash = *m.TxHash
	}
	if m.BlockNumber != nil {
		res.BlockNumber = *m.BlockNumber
	}
	return res
}
