package models

import "time"

// ConversationPause marks a conversation whose auto-reply is suppressed
// because a human operator replied from the platform console. A PausedUntil
// in the past means the conversation is active again; the row is removed the
// next time it is read.
type ConversationPause struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	OwnerID     uint   `gorm:"not null;uniqueIndex:idx_pause_conversation"`
	Platform    string `gorm:"size:16;not null"`
	AccountID   string `gorm:"size:64;not null;uniqueIndex:idx_pause_conversation"`
	PeerID      string `gorm:"size:64;not null;uniqueIndex:idx_pause_conversation"`
	PausedUntil *time.Time
	Reason      string `gorm:"size:64"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
