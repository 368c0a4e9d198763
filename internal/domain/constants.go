package domain

const (
	RoleOperator = "OPERATOR"
)

// Batch statuses. A batch is never deleted; its status is recomputed from
// its migrations after every transition.
const (
	BatchStatusPending    = "PENDING"
	BatchStatusProcessing = "PROCESSING"
	BatchStatusPartial    = "PARTIAL"
	BatchStatusCompleted  = "COMPLETED"
)

// Migration statuses, in saga order. Any non-completed status may move to
// FAILED; FAILED moves to PENDING (retry) or ROLLED_BACK (compensation).
const (
	MigrationStatusPending      = "PENDING"
	MigrationStatusValidating   = "VALIDATING"
	MigrationStatusDebiting     = "DEBITING"
	MigrationStatusSigning      = "SIGNING"
	MigrationStatusBroadcasting = "BROADCASTING"
	MigrationStatusConfirming   = "CONFIRMING"
	MigrationStatusCompleted    = "COMPLETED"
	MigrationStatusFailed       = "FAILED"
	MigrationStatusRolledBack   = "ROLLED_BACK"
)

const (
	DirectionCredit = "CREDIT"
	DirectionDebit  = "DEBIT"
)

const (
	BalanceTypeMain = "MAIN"
)

// MigrationTerminal reports whether a migration takes no further saga steps.
// FAILED still accepts an explicit retry or rollback, but counts as terminal
// for batch aggregation.
func MigrationTerminal(status string) bool {
	switch status {
	case MigrationStatusCompleted, MigrationStatusFailed, MigrationStatusRolledBack:
		return true
	}
	return false
}
