package models

import (
	"time"

	"gorm.io/datatypes"
)

// Message directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Message origins. Outbound messages are either sent by the bot through the
// send API or by a human operator from the platform console.
const (
	OriginCustomer = "customer"
	OriginBot      = "bot"
	OriginHuman    = "human"
)

// Message statuses.
const (
	StatusReceived  = "received"
	StatusReplied   = "replied"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusError     = "error"
)

// Message is a single inbound or outbound chat message on a channel account.
type Message struct {
	ID          uint           `gorm:"primaryKey;autoIncrement"`
	OwnerID     uint           `gorm:"not null;index:idx_message_conversation"`
	Platform    string         `gorm:"size:16;not null"`
	AccountID   string         `gorm:"size:64;not null;index:idx_message_conversation"`
	PeerID      string         `gorm:"size:64;not null;index:idx_message_conversation"`
	Direction   string         `gorm:"size:4;not null"`
	Origin      string         `gorm:"size:16;not null"`
	Text        string         `gorm:"type:text"`
	Attachments datatypes.JSON `gorm:"type:json"`
	ExternalID  *string        `gorm:"size:191;uniqueIndex"`
	Status      string         `gorm:"size:16;not null;index"`
	SentAt      time.Time      `gorm:"index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
