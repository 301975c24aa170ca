package models

import "time"

// BotConfig holds the per-account chatbot toggles. It is maintained by the
// admin backend; the webhook pipeline only reads it.
type BotConfig struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	OwnerID         uint   `gorm:"not null;uniqueIndex:idx_bot_config_account"`
	AccountID       string `gorm:"size:64;not null;uniqueIndex:idx_bot_config_account"`
	MobileEnabled   bool   `gorm:"default:false"`
	CustomEnabled   bool   `gorm:"default:false"`
	PauseTTLMinutes *int   // nil uses the default; 0 disables auto-pause
	UpdatedAt       time.Time
}
