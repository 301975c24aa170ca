// Package pipeline runs verified webhook events through deduplication,
// pause handling, persistence and auto-reply.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/signalbox/internal/dedup"
	"github.com/zulandar/signalbox/internal/event"
	"github.com/zulandar/signalbox/internal/outcome"
	"github.com/zulandar/signalbox/internal/pause"
	"github.com/zulandar/signalbox/internal/reply"
	"gorm.io/gorm"
)

// Dispatcher answers customer messages. *reply.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req reply.Request) reply.Result
}

// Opts holds the dependencies of a Pipeline.
type Opts struct {
	DB              *gorm.DB
	Pauses          *pause.Store
	Tracker         *pause.Tracker
	Dispatcher      Dispatcher
	DefaultPauseTTL time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

// Pipeline processes the events of webhook deliveries.
type Pipeline struct {
	db         *gorm.DB
	pauses     *pause.Store
	tracker    *pause.Tracker
	dispatcher Dispatcher
	defaultTTL time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// New creates a Pipeline.
func New(opts Opts) (*Pipeline, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("pipeline: DB is required")
	}
	if opts.Pauses == nil {
		return nil, fmt.Errorf("pipeline: pause store is required")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("pipeline: tracker is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("pipeline: dispatcher is required")
	}
	if opts.DefaultPauseTTL <= 0 {
		opts.DefaultPauseTTL = pause.DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		db:         opts.DB,
		pauses:     opts.Pauses,
		tracker:    opts.Tracker,
		dispatcher: opts.Dispatcher,
		defaultTTL: opts.DefaultPauseTTL,
		log:        opts.Logger,
		now:        opts.Now,
	}, nil
}

// Handle processes the events of one delivery in order. It never fails:
// every problem is logged and reported in the event's Result.
func (p *Pipeline) Handle(ctx context.Context, requestID string, events []event.Event) Response {
	log := p.log.With("request_id", requestID)
	resp := Response{Results: make([]Result, 0, len(events))}
	for _, ev := range events {
		resp.Results = append(resp.Results, p.handleEvent(ctx, log, requestID, ev))
	}
	return resp
}

func (p *Pipeline) handleEvent(ctx context.Context, log *slog.Logger, requestID string, ev event.Event) Result {
	log = log.With("platform", ev.Platform, "kind", ev.Kind, "account", ev.AccountID, "peer", ev.PeerID)

	row, err := dedup.Claim(ctx, p.db, dedup.Record{Event: ev, RequestID: requestID, Received: p.now().UTC()})
	if errors.Is(err, dedup.ErrDuplicate) {
		log.Info("duplicate event", "message_id", ev.MessageID)
		return Result{OK: true, Deduped: true, Outcome: outcome.Failed(outcome.DuplicateEvent, err)}
	}
	if err != nil {
		log.Error("record webhook event failed", "error", err)
		return failed(outcome.Internal, err)
	}

	res := p.route(ctx, log, ev)

	if err := dedup.MarkProcessed(ctx, p.db, row.ID, res.Outcome.String()); err != nil {
		log.Warn("mark event processed failed", "event_id", row.ID, "error", err)
	}
	switch res.Outcome.Status {
	case outcome.StatusFailed:
		log.Warn("event failed", "outcome", res.Outcome.String(), "error", res.Outcome.Err)
	default:
		log.Info("event handled", "outcome", res.Outcome.String())
	}
	return res
}

func (p *Pipeline) route(ctx context.Context, log *slog.Logger, ev event.Event) Result {
	if ev.Kind == event.Unhandled {
		return skipped("unhandled")
	}

	acct, err := p.account(ctx, ev.Platform, ev.AccountID)
	if errors.Is(err, errUnknownAccount) {
		return Result{OK: true, Skipped: string(outcome.UnknownAccount), Outcome: outcome.Failed(outcome.UnknownAccount, err)}
	}
	if err != nil {
		return failed(outcome.Internal, err)
	}

	conv := pause.Key{OwnerID: acct.OwnerID, Platform: ev.Platform, AccountID: ev.AccountID, PeerID: ev.PeerID}
	switch ev.Kind {
	case event.EchoMessage:
		return p.handleEcho(ctx, log, conv, ev)
	case event.DeliveryReceipt, event.ReadReceipt:
		return p.handleReceipt(ctx, conv, ev)
	case event.InboundText, event.InboundImage:
		return p.handleInbound(ctx, log, acct.AccessToken, conv, ev)
	default:
		return skipped("unhandled")
	}
}
