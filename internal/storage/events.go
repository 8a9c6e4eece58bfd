package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"parceltriggers/internal/model"
	"parceltriggers/internal/taxonomy"
)

// InsertTriggerRawEvents stores events and returns one id per event. An event
// whose fingerprint is already stored gets id 0.
func (b *baseStore) InsertTriggerRawEvents(ctx context.Context, events []model.RawEvent, runID string) ([]int64, error) {
	if len(events) == 0 {
		return make([]int64, 0), nil
	}
	var ids []int64
	err := b.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = b.insertRawEvents(ctx, tx, events, runID)
		return err
	})
	return ids, err
}

// InsertTriggerEvents stores events and returns one id per event. An event
// whose source raw event already produced a trigger event gets id 0.
func (b *baseStore) InsertTriggerEvents(ctx context.Context, events []model.TriggerEvent, runID string) ([]int64, error) {
	if len(events) == 0 {
		return make([]int64, 0), nil
	}
	var ids []int64
	err := b.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		ids, err = b.insertTriggerEvents(ctx, tx, events, runID)
		return err
	})
	return ids, err
}

// IngestRawEvents stores events and, in the same transaction, the trigger
// events normalize derives from the ones not stored before. Either both land
// or neither does. It returns the number of new raw events and the stored
// trigger events with their ids.
func (b *baseStore) IngestRawEvents(ctx context.Context, events []model.RawEvent, runID string, normalize func(model.RawEvent) (model.TriggerEvent, bool)) (int, []model.TriggerEvent, error) {
	if len(events) == 0 {
		return 0, nil, nil
	}
	var (
		fresh    int
		triggers []model.TriggerEvent
	)
	err := b.inTx(ctx, func(tx *sql.Tx) error {
		ids, err := b.insertRawEvents(ctx, tx, events, runID)
		if err != nil {
			return err
		}
		var pending []model.TriggerEvent
		for i, id := range ids {
			if id == 0 {
				continue
			}
			fresh++
			ev := events[i]
			ev.ID = id
			te, ok := normalize(ev)
			if !ok {
				continue
			}
			if te.SourceEventID == nil {
				source := id
				te.SourceEventID = &source
			}
			pending = append(pending, te)
		}
		triggerIDs, err := b.insertTriggerEvents(ctx, tx, pending, runID)
		if err != nil {
			return err
		}
		for i := range pending {
			if triggerIDs[i] == 0 {
				continue
			}
			pending[i].ID = triggerIDs[i]
			triggers = append(triggers, pending[i])
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return fresh, triggers, nil
}

func (b *baseStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (b *baseStore) insertRawEvents(ctx context.Context, tx *sql.Tx, events []model.RawEvent, runID string) ([]int64, error) {
	ids := make([]int64, len(events))
	if len(events) == 0 {
		return ids, nil
	}
	stmt, err := tx.PrepareContext(ctx, b.q(
		`INSERT INTO trigger_raw_events (run_id, connector_key, county, parcel_id, observed_at, event_type, payload_json, fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING id`))
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	created := formatTime(nowUTC())
	for i, ev := range events {
		var id int64
		err := stmt.QueryRowContext(ctx,
			runID,
			ev.ConnectorKey,
			ev.County,
			ev.ParcelID,
			formatTime(ev.ObservedAt),
			ev.EventType,
			encodeJSON(ev.Payload),
			ev.Fingerprint(),
			created,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func (b *baseStore) insertTriggerEvents(ctx context.Context, tx *sql.Tx, events []model.TriggerEvent, runID string) ([]int64, error) {
	ids := make([]int64, len(events))
	if len(events) == 0 {
		return ids, nil
	}
	stmt, err := tx.PrepareContext(ctx, b.q(
		`INSERT INTO trigger_events (run_id, county, parcel_id, trigger_key, trigger_at, severity, domain, source_connector_key, source_event_type, source_event_id, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_event_id) DO NOTHING
		RETURNING id`))
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	created := formatTime(nowUTC())
	for i, ev := range events {
		var source sql.NullInt64
		if ev.SourceEventID != nil {
			source = sql.NullInt64{Int64: *ev.SourceEventID, Valid: true}
		}
		err := stmt.QueryRowContext(ctx,
			runID,
			ev.County,
			ev.ParcelID,
			string(ev.TriggerKey),
			formatTime(ev.TriggerAt),
			ev.Severity,
			string(ev.Domain),
			ev.SourceConnectorKey,
			ev.SourceEventType,
			source,
			encodeJSON(ev.Details),
			created,
		).Scan(&ids[i])
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

const triggerEventColumns = `id, county, parcel_id, trigger_key, trigger_at, severity, domain, source_connector_key, source_event_type, source_event_id, details_json`

// ListTriggerEventsForCounty returns events with trigger_at at or after since,
// oldest first. A zero since lists the whole history.
func (b *baseStore) ListTriggerEventsForCounty(ctx context.Context, county string, since time.Time, limit int) ([]model.TriggerEvent, error) {
	rows, err := b.db.QueryContext(ctx, b.q(
		`SELECT `+triggerEventColumns+` FROM trigger_events
		WHERE county = ? AND trigger_at >= ?
		ORDER BY trigger_at ASC, id ASC
		LIMIT ?`),
		county, formatTime(since), clampLimit(limit, 1_000_000))
	if err != nil {
		return nil, err
	}
	return scanTriggerEvents(rows)
}

// ListTriggerEventsForParcel returns the newest events first.
func (b *baseStore) ListTriggerEventsForParcel(ctx context.Context, county, parcelID string, limit int) ([]model.TriggerEvent, error) {
	rows, err := b.db.QueryContext(ctx, b.q(
		`SELECT `+triggerEventColumns+` FROM trigger_events
		WHERE county = ? AND parcel_id = ?
		ORDER BY trigger_at DESC, id DESC
		LIMIT ?`),
		county, parcelID, clampLimit(limit, 500))
	if err != nil {
		return nil, err
	}
	return scanTriggerEvents(rows)
}

func scanTriggerEvents(rows *sql.Rows) ([]model.TriggerEvent, error) {
	defer rows.Close()
	var out []model.TriggerEvent
	for rows.Next() {
		var (
			ev        model.TriggerEvent
			key       string
			domain    string
			triggerAt string
			source    sql.NullInt64
			details   string
		)
		if err := rows.Scan(&ev.ID, &ev.County, &ev.ParcelID, &key, &triggerAt, &ev.Severity, &domain,
			&ev.SourceConnectorKey, &ev.SourceEventType, &source, &details); err != nil {
			return nil, err
		}
		ev.TriggerKey = taxonomy.Key(key)
		ev.Domain = taxonomy.Domain(domain)
		ev.TriggerAt = parseTime(triggerAt)
		if source.Valid {
			id := source.Int64
			ev.SourceEventID = &id
		}
		decodeJSON(details, &ev.Details)
		out = append(out, ev)
	}
	return out, rows.Err()
}
