package db

import (
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models owned by the pipeline.
func AllModels() []interface{} {
	return []interface{}{
		&models.WebhookEvent{},
		&models.ConversationPause{},
		&models.Message{},
		&models.BotConfig{},
		&models.ChannelAccount{},
		&models.ChannelControl{},
		&models.ChatbotCredential{},
		&models.CacheEntry{},
	}
}

// AutoMigrate creates or updates all pipeline tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
