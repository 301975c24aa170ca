// Package dedup records webhook events and rejects retried deliveries of an
// event that was already claimed.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/event"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrDuplicate is returned by Claim when the event's dedupe key was already
// recorded by an earlier delivery.
var ErrDuplicate = errors.New("dedup: duplicate event")

// Key derives the dedupe key for an event: the platform event id when
// present, otherwise the message id, namespaced by platform and kind. Events
// with neither (Messenger delivery and read receipts) have no key.
func Key(ev event.Event) string {
	id := ev.EventID
	if id == "" {
		id = ev.MessageID
	}
	if id == "" {
		return ""
	}
	// Echoes and receipts reference the id of the message they acknowledge.
	return ev.Platform + ":" + string(ev.Kind) + ":" + id
}

// Record is the data persisted for a claimed event.
type Record struct {
	Event     event.Event
	RequestID string
	Received  time.Time
}

// Claim persists the event and returns the stored row. When the dedupe key
// already exists, either found by the pre-check or rejected by the unique
// index under a concurrent insert, ErrDuplicate is returned and nothing is
// written.
func Claim(ctx context.Context, gormDB *gorm.DB, rec Record) (*models.WebhookEvent, error) {
	key := Key(rec.Event)
	row := &models.WebhookEvent{
		Platform:   rec.Event.Platform,
		Kind:       string(rec.Event.Kind),
		RequestID:  rec.RequestID,
		Payload:    datatypes.JSON(rec.Event.Raw),
		ReceivedAt: rec.Received,
	}
	if len(row.Payload) == 0 {
		row.Payload = datatypes.JSON("{}")
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now().UTC()
	}

	tx := gormDB.WithContext(ctx)
	if key != "" {
		row.DedupeKey = &key
		var count int64
		if err := tx.Model(&models.WebhookEvent{}).Where("dedupe_key = ?", key).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("dedup: claim %s: %w", key, err)
		}
		if count > 0 {
			return nil, ErrDuplicate
		}
	}

	if err := tx.Create(row).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("dedup: claim: %w", err)
	}
	return row, nil
}

// MarkProcessed stamps the event row with its final outcome.
func MarkProcessed(ctx context.Context, gormDB *gorm.DB, id uint, outcome string) error {
	result := gormDB.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"outcome":      outcome,
			"processed_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("dedup: mark processed %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("dedup: event not found: %d", id)
	}
	return nil
}
