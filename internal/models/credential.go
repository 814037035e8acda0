package models

import "gorm.io/gorm"

// Credential is one stored set of exchange API credentials together with the
// sizing parameters applied to every trade placed with it. The bot trades
// with the first stored credential; additional rows are kept for audit.
type Credential struct {
	gorm.Model
	ApiKey      string  `json:"api_key" gorm:"not null"`
	ApiSecret   string  `json:"api_secret" gorm:"not null"`
	TradeAmount float64 `json:"trade_amount" gorm:"not null"`
	Leverage    int     `json:"leverage" gorm:"default:1"`
}
