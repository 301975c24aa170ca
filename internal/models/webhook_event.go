package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent records a single event parsed from a webhook delivery. A
// non-nil DedupeKey is unique: the second delivery of the same platform event
// fails to insert and is acknowledged without running business logic.
type WebhookEvent struct {
	ID          uint           `gorm:"primaryKey;autoIncrement"`
	Platform    string         `gorm:"size:16;not null;index"`
	Kind        string         `gorm:"size:32;not null"`
	DedupeKey   *string        `gorm:"size:191;uniqueIndex"`
	RequestID   string         `gorm:"size:36;index"`
	Payload     datatypes.JSON `gorm:"type:json"`
	Outcome     string         `gorm:"size:64"`
	ReceivedAt  time.Time      `gorm:"index"`
	ProcessedAt *time.Time
}
