package repository

import (
	"chainpay/internal/models"

	"gorm.io/gorm"
)

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// CreateWithMigrations writes the batch and all its migrations atomically.
func (r *BatchRepository) CreateWithMigrations(batch *models.Batch, migrations []models.Migration) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		for i := range migrations {
			migrations[i].BatchID = batch.ID
		}
		return tx.Create(&migrations).Error
	})
}

func (r *BatchRepository) GetByID(id uint) (*models.Batch, error) {
	var b models.Batch
	if err := r.db.First(&b, id).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateFields applies a partial update; batches are never deleted.
func (r *BatchRepository) UpdateFields(id uint, fields map[string]interface{}) error {
	return r.db.Model(&models.Batch{}).Where("id = ?", id).Updates(fields).Error
}

// List returns batches newest-first with pagination.
func (r *BatchRepository) List(page, limit int) ([]models.Batch, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	var total int64
	if err := r.db.Model(&models.Batch{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var batches []models.Batch
	err := r.db.Order("id desc").Offset((page - 1) * limit).Limit(limit).Find(&batches).Error
	return batches, total, err
}
