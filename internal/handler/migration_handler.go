package handler

import (
	"errors"
	"net/http"
	"strconv"

	"chainpay/internal/middleware"
	"chainpay/internal/models"
	"chainpay/internal/repository"
	"chainpay/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type MigrationHandler struct {
	migrationSvc *service.MigrationService
	auditRepo    *repository.AuditLogRepository
}

func NewMigrationHandler(migrationSvc *service.MigrationService, auditRepo *repository.AuditLogRepository) *MigrationHandler {
	return &MigrationHandler{migrationSvc: migrationSvc, auditRepo: auditRepo}
}

// Process runs the saga for one migration.
func (h *MigrationHandler) Process(c *gin.Context) {
	migrationID, ok := parseID(c)
	if !ok {
		return
	}
	adminID := middleware.GetUserID(c)
	h.audit(c, adminID, "migration.process", migrationID)

	result, err := h.migrationSvc.Process(c.Request.Context(), migrationID)
	if err != nil {
		respondSagaError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Retry re-runs the saga for a failed migration.
func (h *MigrationHandler) Retry(c *gin.Context) {
	migrationID, ok := parseID(c)
	if !ok {
		return
	}
	adminID := middleware.GetUserID(c)
	h.audit(c, adminID, "migration.retry", migrationID)

	result, err := h.migrationSvc.Retry(c.Request.Context(), migrationID)
	if err != nil {
		respondSagaError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Rollback applies the compensating credit for a failed migration.
func (h *MigrationHandler) Rollback(c *gin.Context) {
	migrationID, ok := parseID(c)
	if !ok {
		return
	}
	adminID := middleware.GetUserID(c)
	h.audit(c, adminID, "migration.rollback", migrationID)

	if err := h.migrationSvc.Rollback(c.Request.Context(), migrationID); err != nil {
		respondSagaError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "migration rolled back; requested amount re-credited"})
}

// respondSagaError maps the saga's typed errors onto HTTP codes. The error
// text carries the step context recorded on the migration.
func respondSagaError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "migration not found"})
	case errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrRetryLimitExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrConcurrentProcess):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrNetAmountTooLow),
		errors.Is(err, service.ErrDebitFailed),
		errors.Is(err, service.ErrFeeEstimateFailed),
		errors.Is(err, service.ErrOperatorInsufficientFunds),
		errors.Is(err, service.ErrTransactionFailed),
		errors.Is(err, service.ErrTransactionReverted),
		errors.Is(err, service.ErrConfirmationTimeout),
		errors.Is(err, service.ErrBroadcastUnknown):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "migration operation failed"})
	}
}

func (h *MigrationHandler) audit(c *gin.Context, adminID uint, action string, migrationID uint) {
	entry := &models.AuditLog{
		UserID:     &adminID,
		Action:     action,
		Resource:   "migration",
		ResourceID: strconv.FormatUint(uint64(migrationID), 10),
		IP:         c.ClientIP(),
	}
	_ = h.auditRepo.Create(entry)
}
