// Package housekeeping periodically removes expired pause rows, cache
// entries and old processed webhook events.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// DefaultSchedule runs every fifteen minutes.
const DefaultSchedule = "*/15 * * * *"

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Purger drops expired entries and reports how many were removed.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// PauseStore deletes pause rows whose deadline has passed.
type PauseStore interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Opts configures a Janitor. Cache and Pauses are optional.
type Opts struct {
	DB             *gorm.DB
	Cache          Purger
	Pauses         PauseStore
	Schedule       string
	EventRetention time.Duration // 0 keeps processed events forever
	Logger         *slog.Logger
	Now            func() time.Time
}

// Report counts the rows removed by one sweep.
type Report struct {
	CacheEntries int64
	Pauses       int64
	Events       int64
}

// Janitor runs the cleanup sweep on a cron schedule.
type Janitor struct {
	db        *gorm.DB
	cache     Purger
	pauses    PauseStore
	schedule  cron.Schedule
	retention time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// New validates opts and parses the schedule.
func New(opts Opts) (*Janitor, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("housekeeping: DB is required")
	}
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	sched, err := cronParser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("housekeeping: schedule %q: %w", opts.Schedule, err)
	}
	if opts.EventRetention < 0 {
		return nil, fmt.Errorf("housekeeping: event retention must not be negative")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Janitor{
		db:        opts.DB,
		cache:     opts.Cache,
		pauses:    opts.Pauses,
		schedule:  sched,
		retention: opts.EventRetention,
		log:       opts.Logger,
		now:       opts.Now,
	}, nil
}

// Next returns the duration from now until the next scheduled sweep.
func (j *Janitor) Next() time.Duration {
	now := j.now()
	d := j.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Run sweeps on schedule until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	timer := time.NewTimer(j.Next())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.log.Warn("housekeeping sweep failed", "error", err)
			}
			timer.Reset(j.Next())
		}
	}
}

// Sweep runs every cleanup step once. A failing step does not stop the
// others; the first error is returned.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if j.cache != nil {
		n, err := j.cache.Purge(ctx)
		rep.CacheEntries = n
		keep(err)
	}
	if j.pauses != nil {
		n, err := j.pauses.PurgeExpired(ctx)
		rep.Pauses = n
		keep(err)
	}
	n, err := j.purgeEvents(ctx)
	rep.Events = n
	keep(err)

	j.log.Info("housekeeping sweep",
		"cache_entries", rep.CacheEntries,
		"pauses", rep.Pauses,
		"events", rep.Events,
	)
	return rep, firstErr
}

// purgeEvents deletes processed webhook events received before the
// retention window. Unprocessed rows are kept for inspection.
func (j *Janitor) purgeEvents(ctx context.Context) (int64, error) {
	if j.retention == 0 {
		return 0, nil
	}
	cutoff := j.now().UTC().Add(-j.retention)
	res := j.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND received_at < ?", cutoff).
		Delete(&models.WebhookEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("housekeeping: purge events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
