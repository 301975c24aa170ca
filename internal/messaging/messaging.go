// Package messaging persists customer and reply messages and moves their
// delivery status forward as receipts arrive.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// ErrConflict is returned by Record when a message with the same external id
// already exists.
var ErrConflict = errors.New("messaging: message already recorded")

// allowedFrom lists, for each target status, the statuses it may be reached
// from. Status never moves backwards.
var allowedFrom = map[string][]string{
	models.StatusReplied:   {models.StatusReceived},
	models.StatusDelivered: {models.StatusReceived, models.StatusReplied},
	models.StatusRead:      {models.StatusReceived, models.StatusReplied, models.StatusDelivered},
	models.StatusError:     {models.StatusReceived, models.StatusReplied},
}

// Record inserts a message. SentAt defaults to now and Status to received
// for inbound or replied for outbound messages.
func Record(ctx context.Context, gormDB *gorm.DB, msg *models.Message) error {
	if msg.Platform == "" {
		return fmt.Errorf("messaging: platform is required")
	}
	if msg.AccountID == "" {
		return fmt.Errorf("messaging: account is required")
	}
	if msg.PeerID == "" {
		return fmt.Errorf("messaging: peer is required")
	}
	switch msg.Direction {
	case models.DirectionIn, models.DirectionOut:
	default:
		return fmt.Errorf("messaging: unknown direction %q", msg.Direction)
	}

	if msg.Status == "" {
		msg.Status = models.StatusReceived
		if msg.Direction == models.DirectionOut {
			msg.Status = models.StatusReplied
		}
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	if msg.ExternalID != nil && *msg.ExternalID == "" {
		msg.ExternalID = nil
	}

	if err := gormDB.WithContext(ctx).Create(msg).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("messaging: record: %w", err)
	}
	return nil
}

// Advance moves a single message to status if the transition is forward.
// It reports whether the row changed.
func Advance(ctx context.Context, gormDB *gorm.DB, id uint, status string) (bool, error) {
	from, ok := allowedFrom[status]
	if !ok {
		return false, fmt.Errorf("messaging: cannot advance to %q", status)
	}
	result := gormDB.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", status)
	if result.Error != nil {
		return false, fmt.Errorf("messaging: advance %d: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// AdvanceByExternalIDs moves every message of the platform whose external id
// is in ids to status. Messages already at or past status are untouched.
func AdvanceByExternalIDs(ctx context.Context, gormDB *gorm.DB, platform string, ids []string, status string) (int64, error) {
	from, ok := allowedFrom[status]
	if !ok {
		return 0, fmt.Errorf("messaging: cannot advance to %q", status)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	result := gormDB.WithContext(ctx).Model(&models.Message{}).
		Where("platform = ? AND external_id IN ? AND status IN ?", platform, ids, from).
		Update("status", status)
	if result.Error != nil {
		return 0, fmt.Errorf("messaging: advance by ids: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// AdvanceByWatermark moves every outbound message in the conversation sent
// at or before watermark to status.
func AdvanceByWatermark(ctx context.Context, gormDB *gorm.DB, platform, accountID, peerID string, watermark time.Time, status string) (int64, error) {
	from, ok := allowedFrom[status]
	if !ok {
		return 0, fmt.Errorf("messaging: cannot advance to %q", status)
	}
	if watermark.IsZero() {
		return 0, nil
	}
	result := gormDB.WithContext(ctx).Model(&models.Message{}).
		Where("platform = ? AND account_id = ? AND peer_id = ? AND direction = ? AND sent_at <= ? AND status IN ?",
			platform, accountID, peerID, models.DirectionOut, watermark.UTC(), from).
		Update("status", status)
	if result.Error != nil {
		return 0, fmt.Errorf("messaging: advance by watermark: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Conversation returns the latest limit messages exchanged with a peer,
// oldest first. A non-positive limit returns the whole history.
func Conversation(ctx context.Context, gormDB *gorm.DB, ownerID uint, accountID, peerID string, limit int) ([]models.Message, error) {
	q := gormDB.WithContext(ctx).
		Where("owner_id = ? AND account_id = ? AND peer_id = ?", ownerID, accountID, peerID).
		Order("sent_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var msgs []models.Message
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("messaging: conversation %s/%s: %w", accountID, peerID, err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}
