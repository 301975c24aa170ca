package dedup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/event"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := db.Connect(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   "file:" + name + "?mode=memory&cache=shared",
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, _ := gormDB.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := gormDB.AutoMigrate(&models.WebhookEvent{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gormDB
}

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		ev   event.Event
		want string
	}{
		{
			name: "event id wins",
			ev:   event.Event{Platform: "zalo", Kind: event.InboundText, EventID: "e1", MessageID: "m1"},
			want: "zalo:inbound_text:e1",
		},
		{
			name: "message id fallback",
			ev:   event.Event{Platform: "messenger", Kind: event.InboundText, MessageID: "m1"},
			want: "messenger:inbound_text:m1",
		},
		{
			name: "echo of same id is a different key",
			ev:   event.Event{Platform: "messenger", Kind: event.EchoMessage, MessageID: "m1"},
			want: "messenger:echo_message:m1",
		},
		{
			name: "no ids",
			ev:   event.Event{Platform: "messenger", Kind: event.ReadReceipt},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Key(tt.ev); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClaim_SecondDeliveryIsDuplicate(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()
	rec := Record{
		Event:     event.Event{Platform: "messenger", Kind: event.InboundText, MessageID: "m_1", Raw: []byte(`{"a":1}`)},
		RequestID: "req-1",
	}

	row, err := Claim(ctx, gormDB, rec)
	if err != nil {
		t.Fatalf("first Claim: %v", err)
	}
	if row.ID == 0 || row.DedupeKey == nil || *row.DedupeKey != "messenger:inbound_text:m_1" {
		t.Errorf("row = %+v", row)
	}
	if row.RequestID != "req-1" {
		t.Errorf("RequestID = %q", row.RequestID)
	}

	if _, err := Claim(ctx, gormDB, rec); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Claim = %v, want ErrDuplicate", err)
	}

	var count int64
	gormDB.Model(&models.WebhookEvent{}).Count(&count)
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}

func TestClaim_NoKeyNeverDeduped(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()
	rec := Record{Event: event.Event{Platform: "messenger", Kind: event.DeliveryReceipt}}

	for i := 0; i < 3; i++ {
		row, err := Claim(ctx, gormDB, rec)
		if err != nil {
			t.Fatalf("Claim #%d: %v", i, err)
		}
		if row.DedupeKey != nil {
			t.Errorf("DedupeKey = %q, want nil", *row.DedupeKey)
		}
	}

	var count int64
	gormDB.Model(&models.WebhookEvent{}).Count(&count)
	if count != 3 {
		t.Errorf("rows = %d, want 3", count)
	}
}

func TestClaim_ConcurrentDeliveries(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()
	rec := Record{Event: event.Event{Platform: "zalo", Kind: event.InboundText, MessageID: "race"}}

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		claimed  int
		dupes    int
		otherErr []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Claim(ctx, gormDB, rec)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				claimed++
			case errors.Is(err, ErrDuplicate):
				dupes++
			default:
				otherErr = append(otherErr, err)
			}
		}()
	}
	wg.Wait()

	if len(otherErr) > 0 {
		t.Fatalf("unexpected errors: %v", otherErr)
	}
	if claimed != 1 || dupes != workers-1 {
		t.Errorf("claimed=%d dupes=%d, want 1 and %d", claimed, dupes, workers-1)
	}
}

func TestMarkProcessed(t *testing.T) {
	gormDB := openTestDB(t)
	ctx := context.Background()

	row, err := Claim(ctx, gormDB, Record{Event: event.Event{Platform: "zalo", Kind: event.InboundText, MessageID: "x"}})
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := MarkProcessed(ctx, gormDB, row.ID, "ok"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	var got models.WebhookEvent
	if err := gormDB.First(&got, row.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Outcome != "ok" {
		t.Errorf("Outcome = %q, want ok", got.Outcome)
	}
	if got.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}
}

func TestMarkProcessed_NotFound(t *testing.T) {
	gormDB := openTestDB(t)
	err := MarkProcessed(context.Background(), gormDB, 999, "ok")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("MarkProcessed() = %v, want not found", err)
	}
}
