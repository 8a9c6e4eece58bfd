package connector

import (
	"context"
	"time"

	"parceltriggers/internal/config"
	"parceltriggers/internal/model"
	"parceltriggers/internal/storage"
)

const (
	DefaultLookback = 45 * 24 * time.Hour
	DefaultSlack    = 3 * 24 * time.Hour
)

// Watermark tracks the newest observed_at ingested per (connector, county).
type Watermark struct {
	Store    storage.WatermarkStore
	Key      string
	Lookback time.Duration
	Slack    time.Duration
}

func newWatermark(store storage.WatermarkStore, key string, cfg config.ConnectorsConfig) Watermark {
	w := Watermark{Store: store, Key: key, Lookback: cfg.DefaultLookback, Slack: cfg.LookbackSlack}
	if w.Lookback <= 0 {
		w.Lookback = DefaultLookback
	}
	if w.Slack <= 0 {
		w.Slack = DefaultSlack
	}
	return w
}

// Since is the lower bound of the next query: watermark minus slack, or
// now minus the default lookback on the first run.
func (w Watermark) Since(ctx context.Context, county string, now time.Time) (time.Time, error) {
	since, _, _, err := w.bounds(ctx, county, now)
	return since, err
}

func (w Watermark) bounds(ctx context.Context, county string, now time.Time) (since, mark time.Time, ok bool, err error) {
	if w.Store == nil {
		return now.Add(-w.Lookback), time.Time{}, false, nil
	}
	mark, ok, err = w.Store.GetWatermark(ctx, w.Key, county)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	if !ok {
		return now.Add(-w.Lookback), time.Time{}, false, nil
	}
	return mark.Add(-w.Slack), mark, true, nil
}

// Advance records the newest observed_at in events. Older values never
// replace a newer stored watermark.
func (w Watermark) Advance(ctx context.Context, county string, events []model.RawEvent) error {
	if w.Store == nil || len(events) == 0 {
		return nil
	}
	newest := newestObserved(events)
	if newest.IsZero() {
		return nil
	}
	return w.Store.SetWatermark(ctx, w.Key, county, newest)
}

func newestObserved(events []model.RawEvent) time.Time {
	var newest time.Time
	for _, ev := range events {
		if ev.ObservedAt.After(newest) {
			newest = ev.ObservedAt
		}
	}
	return newest
}

// poll runs the read-watermark, query, write-watermark cycle around query.
// A backlog larger than limit is consumed oldest page first, so the
// watermark only passes rows that were returned. The page comes back
// newest first.
func (w Watermark) poll(ctx context.Context, county string, now time.Time, limit int,
	query func(since time.Time) ([]model.RawEvent, error)) ([]model.RawEvent, error) {
	since, mark, ok, err := w.bounds(ctx, county, now)
	if err != nil {
		return nil, err
	}
	events, err := query(since)
	if err != nil {
		return nil, err
	}
	page := oldestFirst(events, limit)
	if ok && limit > 0 && len(page) == limit && !newestObserved(page).After(mark) {
		// the slack overlap alone filled the page
		if events, err = query(mark); err != nil {
			return nil, err
		}
		page = oldestFirst(events, limit)
	}
	if err := w.Advance(ctx, county, page); err != nil {
		return nil, err
	}
	return newestFirst(page, 0), nil
}
