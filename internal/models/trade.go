package models

import "gorm.io/gorm"

// Trade is one closed position leg in the append-only ledger. Rows are
// written once, either from an exchange fill event or from a simulated
// position hitting its exit price, and never updated.
type Trade struct {
	gorm.Model
	TradeType       string  `json:"trade_type" gorm:"not null"`
	Symbol          string  `json:"symbol" gorm:"not null;index"`
	TradeAmount     float64 `json:"trade_amount" gorm:"not null"`
	EntryPrice      float64 `json:"entry_price" gorm:"not null"`
	MarkPrice       float64 `json:"mark_price" gorm:"not null"`
	Pnl             float64 `json:"pnl" gorm:"not null"`
	Roi             float64 `json:"roi" gorm:"not null"`
	RealizedPnl     string  `json:"realized_pnl" gorm:"not null"`
	QuoteQty        string  `json:"quote_qty" gorm:"not null"`
	Commission      string  `json:"commission" gorm:"not null"`
	CommissionAsset string  `json:"commission_asset" gorm:"not null"`
	Side            string  `json:"side" gorm:"not null"`
	// Time is the exchange event timestamp in milliseconds, not the
	// wall clock of the insert. Time-windowed queries run against it.
	Time      int64  `json:"time" gorm:"not null;index"`
	ExtraInfo string `json:"extra_info,omitempty"`
}
