package store

import (
	"errors"
	"fmt"

	"futures-alert-bot/internal/models"
	"gorm.io/gorm"
)

// Counter keys used in the settings table.
const (
	CounterCurrentTrades = "currentTrades"
	CounterMaxTrades     = "maxTrades"
)

// Store is the durable state of the bot: the trade counters, the append-only
// trade ledger and the stored credentials.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store on top of an already migrated database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetCounter returns the value for a counter key, or 0 if the key is missing.
func (s *Store) GetCounter(key string) (int64, error) {
	var setting models.Setting
	err := s.db.Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter '%s': %w", key, err)
	}
	return setting.Value, nil
}

// SetCounter overwrites a counter value. This is the administrative override
// path; normal mutation goes through Increment/Decrement.
func (s *Store) SetCounter(key string, value int64) error {
	setting := models.Setting{Key: key, Value: value}
	if err := s.db.Save(&setting).Error; err != nil {
		return fmt.Errorf("failed to set counter '%s': %w", key, err)
	}
	return nil
}

// IncrementCounter adds one to a counter as a single UPDATE statement.
func (s *Store) IncrementCounter(key string) error {
	err := s.db.Model(&models.Setting{}).
		Where("key = ?", key).
		Update("value", gorm.Expr("value + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment counter '%s': %w", key, err)
	}
	return nil
}

// DecrementCounterClamped subtracts one from a counter, clamping at zero.
// The clamp happens inside the UPDATE so concurrent decrements can never
// drive the value negative.
func (s *Store) DecrementCounterClamped(key string) error {
	err := s.db.Model(&models.Setting{}).
		Where("key = ?", key).
		Update("value", gorm.Expr("CASE WHEN value > 0 THEN value - 1 ELSE 0 END")).Error
	if err != nil {
		return fmt.Errorf("failed to decrement counter '%s': %w", key, err)
	}
	return nil
}

// AppendTrade writes one closed trade to the ledger.
func (s *Store) AppendTrade(trade *models.Trade) error {
	if err := s.db.Create(trade).Error; err != nil {
		return fmt.Errorf("failed to save trade record: %w", err)
	}
	return nil
}

// QueryTrades returns ledger rows whose event time falls inside
// [startMillis, endMillis], most recent first.
func (s *Store) QueryTrades(startMillis, endMillis int64) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.Where("time BETWEEN ? AND ?", startMillis, endMillis).
		Order("time desc").
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	return trades, nil
}

// LatestTrade returns the most recent ledger row by event time, or nil when
// the ledger is empty.
func (s *Store) LatestTrade() (*models.Trade, error) {
	var trade models.Trade
	err := s.db.Order("time desc").First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest trade: %w", err)
	}
	return &trade, nil
}
