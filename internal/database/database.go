package database

import (
	"fmt"

	"copytrade-backend-go/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// New opens the database and performs auto-migration. TranslateError is
// enabled so that unique-constraint violations surface as
// gorm.ErrDuplicatedKey regardless of driver; the ledger's idempotency
// check depends on it.
func New(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all domain tables.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Credential{},
		&models.Signal{},
		&models.LedgerEntry{},
		&models.Execution{},
		&models.Order{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}
