package database

import (
	"fmt"

	"futures-alert-bot/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Default counter values seeded on first start.
const (
	DefaultMaxTrades     = 50
	DefaultCurrentTrades = 0
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates the schema and seeds the trade counters if they are
// missing. Existing data is never dropped; the trade ledger is append-only.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Credential{}, &models.Trade{}, &models.Setting{}); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	// Seed the counters on first run only.
	seeds := []models.Setting{
		{Key: "maxTrades", Value: DefaultMaxTrades},
		{Key: "currentTrades", Value: DefaultCurrentTrades},
	}
	for _, seed := range seeds {
		setting := seed
		if err := db.Where(models.Setting{Key: seed.Key}).FirstOrCreate(&setting).Error; err != nil {
			return fmt.Errorf("failed to seed setting '%s': %w", seed.Key, err)
		}
	}

	return nil
}
