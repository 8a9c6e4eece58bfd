package storage

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"parceltriggers/internal/model"
)

// UpsertTriggerAlert writes one alert per (county, parcel_id, alert_key).
// Existing rows keep their first_seen_at, advance last_seen_at, take the new
// severity, status and details, and gain any new trigger event ids. It
// returns the alert id and whether the row was created.
func (b *baseStore) UpsertTriggerAlert(ctx context.Context, alert model.Alert) (int64, bool, error) {
	if alert.Status == "" {
		alert.Status = model.AlertOpen
	}
	if alert.FirstSeenAt.IsZero() {
		alert.FirstSeenAt = alert.LastSeenAt
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	var existing int64
	err = tx.QueryRowContext(ctx, b.q(
		`SELECT id FROM trigger_alerts WHERE county = ? AND parcel_id = ? AND alert_key = ?`),
		alert.County, alert.ParcelID, alert.AlertKey).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return 0, false, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, b.q(
		`INSERT INTO trigger_alerts (county, parcel_id, alert_key, severity, first_seen_at, last_seen_at, status, details_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (county, parcel_id, alert_key) DO UPDATE SET
			severity = excluded.severity,
			first_seen_at = CASE WHEN excluded.first_seen_at < trigger_alerts.first_seen_at THEN excluded.first_seen_at ELSE trigger_alerts.first_seen_at END,
			last_seen_at = CASE WHEN excluded.last_seen_at > trigger_alerts.last_seen_at THEN excluded.last_seen_at ELSE trigger_alerts.last_seen_at END,
			status = excluded.status,
			details_json = excluded.details_json
		RETURNING id`),
		alert.County,
		alert.ParcelID,
		alert.AlertKey,
		alert.Severity,
		formatTime(alert.FirstSeenAt),
		formatTime(alert.LastSeenAt),
		string(alert.Status),
		encodeJSON(alert.Details),
	).Scan(&id)
	if err != nil {
		_ = tx.Rollback()
		return 0, false, err
	}
	if len(alert.TriggerEventIDs) > 0 {
		stmt, err := tx.PrepareContext(ctx, b.q(
			`INSERT INTO trigger_alert_events (alert_id, trigger_event_id) VALUES (?, ?)
			ON CONFLICT (alert_id, trigger_event_id) DO NOTHING`))
		if err != nil {
			_ = tx.Rollback()
			return 0, false, err
		}
		for _, eventID := range alert.TriggerEventIDs {
			if _, err := stmt.ExecContext(ctx, id, eventID); err != nil {
				stmt.Close()
				_ = tx.Rollback()
				return 0, false, err
			}
		}
		stmt.Close()
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return id, existing == 0, nil
}

const alertColumns = `id, county, parcel_id, alert_key, severity, first_seen_at, last_seen_at, status, details_json`

// ListTriggerAlertsForParcel lists the newest alerts first. An empty status
// matches any status.
func (b *baseStore) ListTriggerAlertsForParcel(ctx context.Context, county, parcelID string, status model.AlertStatus, limit int) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM trigger_alerts WHERE county = ? AND parcel_id = ?`
	args := []any{county, parcelID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY last_seen_at DESC, id DESC LIMIT ?`
	args = append(args, clampLimit(limit, 100))
	alerts, err := b.queryAlerts(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return alerts, b.attachTriggerEventIDs(ctx, alerts)
}

// ListTriggerAlertsSince returns open alerts whose last_seen_at is after
// since, optionally restricted to parcelIDs.
func (b *baseStore) ListTriggerAlertsSince(ctx context.Context, county string, since time.Time, parcelIDs []string) ([]model.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM trigger_alerts WHERE county = ? AND status = ? AND last_seen_at > ?`
	args := []any{county, string(model.AlertOpen), formatTime(since)}
	if len(parcelIDs) > 0 {
		query += ` AND parcel_id IN (` + placeholders(len(parcelIDs)) + `)`
		for _, id := range parcelIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY parcel_id ASC, alert_key ASC`
	alerts, err := b.queryAlerts(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return alerts, b.attachTriggerEventIDs(ctx, alerts)
}

func (b *baseStore) queryAlerts(ctx context.Context, query string, args ...any) ([]model.Alert, error) {
	rows, err := b.db.QueryContext(ctx, b.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Alert
	for rows.Next() {
		var (
			a         model.Alert
			firstSeen string
			lastSeen  string
			status    string
			details   string
		)
		if err := rows.Scan(&a.ID, &a.County, &a.ParcelID, &a.AlertKey, &a.Severity, &firstSeen, &lastSeen, &status, &details); err != nil {
			return nil, err
		}
		a.FirstSeenAt = parseTime(firstSeen)
		a.LastSeenAt = parseTime(lastSeen)
		a.Status = model.AlertStatus(status)
		decodeJSON(details, &a.Details)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (b *baseStore) attachTriggerEventIDs(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	index := make(map[int64]int, len(alerts))
	args := make([]any, 0, len(alerts))
	for i, a := range alerts {
		index[a.ID] = i
		args = append(args, a.ID)
	}
	rows, err := b.db.QueryContext(ctx, b.q(
		`SELECT alert_id, trigger_event_id FROM trigger_alert_events
		WHERE alert_id IN (`+placeholders(len(args))+`)
		ORDER BY alert_id, trigger_event_id`), args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var alertID, eventID int64
		if err := rows.Scan(&alertID, &eventID); err != nil {
			return err
		}
		if i, ok := index[alertID]; ok {
			alerts[i].TriggerEventIDs = append(alerts[i].TriggerEventIDs, eventID)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for i := range alerts {
		ids := alerts[i].TriggerEventIDs
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	}
	return nil
}
