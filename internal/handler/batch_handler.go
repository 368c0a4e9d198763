package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"chainpay/internal/middleware"
	"chainpay/internal/models"
	"chainpay/internal/repository"
	"chainpay/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type BatchHandler struct {
	batchSvc  *service.BatchService
	auditRepo *repository.AuditLogRepository
}

func NewBatchHandler(batchSvc *service.BatchService, auditRepo *repository.AuditLogRepository) *BatchHandler {
	return &BatchHandler{batchSvc: batchSvc, auditRepo: auditRepo}
}

// Create builds a new migration batch from the eligible users.
func (h *BatchHandler) Create(c *gin.Context) {
	adminID := middleware.GetUserID(c)
	var req struct {
		UserIDs       []uint `json:"user_ids"`
		MinimumAmount string `json:"minimum_amount"`
		Notes         string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	minAmount := decimal.Zero
	if req.MinimumAmount != "" {
		parsed, err := decimal.NewFromString(req.MinimumAmount)
		if err != nil || parsed.IsNegative() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid minimum_amount"})
			return
		}
		minAmount = parsed
	}

	batch, err := h.batchSvc.CreateBatch(adminID, req.UserIDs, minAmount, req.Notes)
	if err != nil {
		if errors.Is(err, service.ErrNoEligibleUsers) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no eligible users"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch creation failed"})
		return
	}
	h.audit(c, adminID, "batch.create", strconv.FormatUint(uint64(batch.ID), 10),
		fmt.Sprintf(`{"batch_number":%q,"total_users":%d}`, batch.BatchNumber, batch.TotalUsers))
	c.JSON(http.StatusCreated, gin.H{
		"batch_id":        batch.ID,
		"batch_number":    batch.BatchNumber,
		"total_users":     batch.TotalUsers,
		"total_requested": batch.TotalRequested,
	})
}

// Get returns the batch with its migrations and per-status summary.
func (h *BatchHandler) Get(c *gin.Context) {
	batchID, ok := parseID(c)
	if !ok {
		return
	}
	h.audit(c, middleware.GetUserID(c), "batch.view", c.Param("id"), "")
	status, err := h.batchSvc.Status(batchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch status failed"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// List returns batches newest-first.
func (h *BatchHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	h.audit(c, middleware.GetUserID(c), "batch.list", "", fmt.Sprintf(`{"page":%d,"limit":%d}`, page, limit))
	batches, total, err := h.batchSvc.List(page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "total": total, "page": page, "limit": limit})
}

func (h *BatchHandler) audit(c *gin.Context, adminID uint, action, resourceID, meta string) {
	entry := &models.AuditLog{
		UserID:     &adminID,
		Action:     action,
		Resource:   "batch",
		ResourceID: resourceID,
		IP:         c.ClientIP(),
		Metadata:   meta,
	}
	_ = h.auditRepo.Create(entry)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}
