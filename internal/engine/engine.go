package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"parceltriggers/internal/config"
	"parceltriggers/internal/connector"
	"parceltriggers/internal/logging"
	"parceltriggers/internal/metrics"
	"parceltriggers/internal/model"
	"parceltriggers/internal/scoring"
	"parceltriggers/internal/storage"
	"parceltriggers/internal/taxonomy"
)

// Store is the slice of storage the engine writes.
type Store interface {
	storage.EventStore
	storage.AlertStore
}

type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Pipeline
	store   Store
	cfg     atomic.Value
	deDupe  *DedupeCache
}

func NewEngine(cfg *config.Config, logger *slog.Logger, pipeline *metrics.Pipeline, store Store) *Engine {
	e := &Engine{
		logger:  logging.With(logger, "engine"),
		metrics: pipeline,
		store:   store,
		deDupe:  NewDedupeCache(),
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		if cfg, ok := v.(*config.Config); ok && cfg != nil {
			return cfg
		}
	}
	return config.DefaultConfig()
}

func (e *Engine) WindowDays() int {
	if days := e.config().Engine.WindowDays; days > 0 {
		return days
	}
	return scoring.DefaultWindowDays
}

// RunConnectorOnce polls conn for county, stores the new raw events together
// with their trigger events, then re-evaluates the county's alerts. The summary
// is filled in on failure too; its Error mirrors the returned error.
func (e *Engine) RunConnectorOnce(ctx context.Context, conn connector.Connector, county string, now time.Time, limit int) (model.RunSummary, error) {
	started := time.Now()
	summary := model.RunSummary{
		RunID:     ulid.Make().String(),
		County:    county,
		Connector: conn.Key(),
	}
	err := e.runConnector(ctx, conn, &summary, now, limit)
	summary.OK = err == nil
	if err != nil {
		summary.Error = err.Error()
	}
	e.metrics.ObserveConnectorRun(summary.Connector, summary.OK, time.Since(started),
		summary.RawEventsCount, summary.NewRawEventsCount, summary.TriggerEventsCount)
	if e.logger != nil {
		attrs := []any{
			"run_id", summary.RunID,
			"connector", summary.Connector,
			"county", county,
			"raw_events", summary.RawEventsCount,
			"new_raw_events", summary.NewRawEventsCount,
			"trigger_events", summary.TriggerEventsCount,
			"alerts_written", summary.AlertsWritten,
		}
		if err != nil {
			e.logger.Warn("connector run failed", append(attrs, "error", err)...)
		} else {
			e.logger.Info("connector run", attrs...)
		}
	}
	return summary, err
}

func (e *Engine) runConnector(ctx context.Context, conn connector.Connector, summary *model.RunSummary, now time.Time, limit int) error {
	county := summary.County
	raw, err := conn.Poll(ctx, county, now, limit)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}
	summary.RawEventsCount = len(raw)

	ttl := e.config().Connectors.LookbackSlack
	if ttl <= 0 {
		ttl = connector.DefaultSlack
	}
	candidates := make([]model.RawEvent, 0, len(raw))
	fingerprints := make([]string, 0, len(raw))
	for _, ev := range raw {
		if ev.County == "" {
			ev.County = county
		}
		if ev.ConnectorKey == "" {
			ev.ConnectorKey = conn.Key()
		}
		fp := ev.Fingerprint()
		if e.deDupe.Has(fp, now, ttl) {
			continue
		}
		candidates = append(candidates, ev)
		fingerprints = append(fingerprints, fp)
	}

	fresh, triggers, err := e.store.IngestRawEvents(ctx, candidates, summary.RunID, func(ev model.RawEvent) (model.TriggerEvent, bool) {
		te, ok := conn.Normalize(ev, now)
		if ok && te.Domain == "" {
			te.Domain, _ = taxonomy.DomainOf(te.TriggerKey)
		}
		return te, ok
	})
	if err != nil {
		return fmt.Errorf("store events: %w", err)
	}
	e.deDupe.Add(now, ttl, fingerprints...)
	summary.NewRawEventsCount = fresh
	summary.TriggerEventsCount = len(triggers)

	written, err := e.evaluate(ctx, county, now, e.WindowDays())
	summary.AlertsWritten = written
	if err != nil {
		return fmt.Errorf("evaluate alerts: %w", err)
	}
	return nil
}

// EvaluateAndUpsertAlerts recomputes the alerts of every parcel with trigger
// events in the last windowDays days and upserts them. It returns the number
// of alert rows written.
func (e *Engine) EvaluateAndUpsertAlerts(ctx context.Context, county string, now time.Time, windowDays int) (int, error) {
	return e.evaluate(ctx, county, now, windowDays)
}

func (e *Engine) evaluate(ctx context.Context, county string, now time.Time, windowDays int) (int, error) {
	if windowDays <= 0 {
		windowDays = e.WindowDays()
	}
	cutoff := scoring.WindowStart(now, windowDays)
	events, err := e.store.ListTriggerEventsForCounty(ctx, county, cutoff, 0)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, w := range GroupByParcel(events, cutoff) {
		for _, alert := range w.Alerts(county, now, windowDays) {
			id, created, err := e.store.UpsertTriggerAlert(ctx, alert)
			if err != nil {
				return written, fmt.Errorf("upsert %s for parcel %s: %w", alert.AlertKey, alert.ParcelID, err)
			}
			written++
			e.metrics.ObserveAlert(alert.AlertKey, created)
			if created && e.logger != nil {
				e.logger.Info("alert opened",
					"alert_id", id,
					"county", county,
					"parcel_id", alert.ParcelID,
					"alert_key", alert.AlertKey,
					"severity", alert.Severity,
				)
			}
		}
	}
	return written, nil
}
