package models

import "time"

// ChatbotCredential stores an owner's API key for a chatbot integration,
// encrypted with the configured master key.
type ChatbotCredential struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	OwnerID   uint   `gorm:"not null;uniqueIndex:idx_chatbot_credential"`
	Bot       string `gorm:"size:16;not null;uniqueIndex:idx_chatbot_credential"`
	APIKeyEnc string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
