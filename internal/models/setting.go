package models

// Setting is a durable key/value counter. The two keys in use are
// "currentTrades" and "maxTrades".
type Setting struct {
	Key   string `json:"key" gorm:"primaryKey"`
	Value int64  `json:"value" gorm:"default:0"`
}
