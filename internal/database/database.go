package database

import (
	"errors"
	"log"

	"chainpay/config"
	"chainpay/internal/domain"
	"chainpay/internal/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error),
		TranslateError: true, // journal dedup relies on gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// AutoMigrate runs Gorm auto-migration for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.UserBalance{},
		&models.JournalEntry{},
		&models.Batch{},
		&models.Migration{},
		&models.AuditLog{},
	)
}

// SeedOperator creates the initial operator account if no operator exists.
func SeedOperator(db *gorm.DB, cfg *config.SeedConfig) {
	var existing models.User
	err := db.Where("role = ?", domain.RoleOperator).First(&existing).Error
	if err == nil {
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[Seed] operator lookup failed: %v", err)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.OperatorPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[Seed] hash failed: %v", err)
		return
	}
	op := &models.User{
		Username:      "operator",
		Email:         cfg.OperatorEmail,
		PasswordHash:  string(hash),
		Role:          domain.RoleOperator,
		WalletAddress: cfg.OperatorWallet,
	}
	if err := db.Create(op).Error; err != nil {
		log.Printf("[Seed] operator create failed: %v", err)
		return
	}
	log.Printf("[Seed] operator account created: %s", cfg.OperatorEmail)
}
