package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"parceltriggers/internal/logging"
	"parceltriggers/internal/metrics"
	"parceltriggers/internal/model"
)

// Ledger is the delivery bookkeeping in storage.
type Ledger interface {
	ListUndelivered(ctx context.Context, savedSearchID, channel string, limit int) ([]model.InboxItem, error)
	RecordDelivery(ctx context.Context, d model.Delivery) (bool, error)
}

type Result struct {
	SavedSearchID string         `json:"saved_search_id"`
	Delivered     map[string]int `json:"delivered"`
	Failed        map[string]int `json:"failed,omitempty"`
	Skipped       []string       `json:"skipped_channels,omitempty"`
}

type Dispatcher struct {
	ledger   Ledger
	channels map[string]Channel
	logger   *slog.Logger
	metrics  *metrics.Pipeline
}

func NewDispatcher(ledger Ledger, channels map[string]Channel, logger *slog.Logger, pipeline *metrics.Pipeline) *Dispatcher {
	return &Dispatcher{ledger: ledger, channels: channels, logger: logging.With(logger, "delivery"), metrics: pipeline}
}

// Dispatch sends every inbox item of s that has no ledger row for a channel
// yet, and records each successful send. A failed send is retried by the
// next dispatch. Channels the search names but that are not configured are
// reported as skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, s model.SavedSearch, now time.Time, limit int) (Result, error) {
	res := Result{SavedSearchID: s.ID, Delivered: map[string]int{}}
	names := s.Channels
	if len(names) == 0 {
		names = []string{ChannelLog}
	}
	for _, name := range names {
		ch, ok := d.channels[name]
		if !ok {
			res.Skipped = append(res.Skipped, name)
			if d.logger != nil {
				d.logger.Warn("delivery channel not configured", "saved_search_id", s.ID, "channel", name)
			}
			continue
		}
		items, err := d.ledger.ListUndelivered(ctx, s.ID, name, limit)
		if err != nil {
			return res, fmt.Errorf("list undelivered %s: %w", name, err)
		}
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			msg := Message{SavedSearchID: s.ID, SavedSearchName: s.Name, Item: item, SentAt: now}
			if err := ch.Send(ctx, msg); err != nil {
				d.metrics.ObserveDelivery(name, false)
				if res.Failed == nil {
					res.Failed = map[string]int{}
				}
				res.Failed[name]++
				if d.logger != nil {
					d.logger.Warn("delivery failed", "channel", name, "alert_id", item.AlertID, "error", err)
				}
				continue
			}
			recorded, err := d.ledger.RecordDelivery(ctx, model.Delivery{
				AlertID:       item.AlertID,
				Channel:       name,
				SavedSearchID: s.ID,
				DeliveredAt:   now,
			})
			if err != nil {
				return res, fmt.Errorf("record delivery: %w", err)
			}
			d.metrics.ObserveDelivery(name, true)
			if recorded {
				res.Delivered[name]++
			}
		}
	}
	return res, nil
}
