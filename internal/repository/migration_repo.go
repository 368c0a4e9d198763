package repository

import (
	"chainpay/internal/models"

	"gorm.io/gorm"
)

type MigrationRepository struct {
	db *gorm.DB
}

func NewMigrationRepository(db *gorm.DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

func (r *MigrationRepository) GetByID(id uint) (*models.Migration, error) {
	var m models.Migration
	if err := r.db.First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MigrationRepository) ListByBatch(batchID uint) ([]models.Migration, error) {
	var ms []models.Migration
	err := r.db.Where("batch_id = ?", batchID).Order("id asc").Find(&ms).Error
	return ms, err
}

// Transition moves a migration from one status to another, optionally setting
// extra fields, guarded by the expected predecessor status. Returns false if
// the row was not in the expected status; losing this guard is how a
// concurrent double-process becomes a clean no-op instead of a double debit.
func (r *MigrationRepository) Transition(id uint, from, to string, fields map[string]interface{}) (bool, error) {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["status"] = to
	res := r.db.Model(&models.Migration{}).Where("id = ? AND status = ?", id, from).Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountByStatus returns migration counts per status for one batch.
func (r *MigrationRepository) CountByStatus(batchID uint) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := r.db.Model(&models.Migration{}).
		Select("status, COUNT(*) as n").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}
