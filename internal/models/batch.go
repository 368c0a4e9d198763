package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Batch groups the migrations created by one eligibility scan. Created once
// by the batch builder; counters and status recomputed by the aggregator;
// never deleted.
type Batch struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	BatchNumber    string          `gorm:"size:64;uniqueIndex;not null" json:"batch_number"`
	InitiatedBy    uint            `gorm:"not null;index" json:"initiated_by"`
	Status         string          `gorm:"size:20;not null;index" json:"status"` // PENDING, PROCESSING, PARTIAL, COMPLETED
	TotalUsers     int             `gorm:"not null" json:"total_users"`
	TotalRequested decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"total_requested"`
	MinimumAmount  decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0" json:"minimum_amount"`
	Notes          string          `gorm:"size:512" json:"notes"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
}

func (Batch) TableName() string {
	return "batches"
}
