package models

import "time"

// Platforms.
const (
	PlatformMessenger = "messenger"
	PlatformZalo      = "zalo"
)

// ChannelAccount links a platform account (Facebook Page or Zalo OA) to the
// tenant that owns it, together with the access token used by the send API.
type ChannelAccount struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	OwnerID     uint   `gorm:"not null;index"`
	Platform    string `gorm:"size:16;not null;uniqueIndex:idx_channel_account"`
	AccountID   string `gorm:"size:64;not null;uniqueIndex:idx_channel_account"`
	Name        string `gorm:"size:128"`
	AccessToken string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChannelControl is the per-user kill switch for auto-replies on a platform.
// A missing row means the platform is enabled.
type ChannelControl struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	OwnerID   uint   `gorm:"not null;uniqueIndex:idx_channel_control"`
	Platform  string `gorm:"size:16;not null;uniqueIndex:idx_channel_control"`
	Enabled   bool   `gorm:"not null;default:true"`
	UpdatedAt time.Time
}
