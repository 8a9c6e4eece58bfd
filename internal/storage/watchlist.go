package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"parceltriggers/internal/model"
)

func (b *baseStore) UpsertSavedSearch(ctx context.Context, s model.SavedSearch) error {
	if s.ID == "" {
		return errors.New("saved search id required")
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = nowUTC()
	}
	_, err := b.db.ExecContext(ctx, b.q(
		`INSERT INTO saved_searches (id, name, county, parcel_ids_json, min_score, require_any_groups_json, require_trigger_keys_json, require_tiers_json, channels_json, active, last_synced_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			county = excluded.county,
			parcel_ids_json = excluded.parcel_ids_json,
			min_score = excluded.min_score,
			require_any_groups_json = excluded.require_any_groups_json,
			require_trigger_keys_json = excluded.require_trigger_keys_json,
			require_tiers_json = excluded.require_tiers_json,
			channels_json = excluded.channels_json,
			active = excluded.active`),
		s.ID,
		s.Name,
		s.County,
		encodeJSON(s.ParcelIDs),
		s.MinScore,
		encodeJSON(s.RequireAnyGroups),
		encodeJSON(s.RequireTriggerKeys),
		encodeJSON(s.RequireTiers),
		encodeJSON(s.Channels),
		boolInt(s.Active),
		nullTime(s.LastSyncedAt),
		formatTime(s.CreatedAt),
	)
	return err
}

func (b *baseStore) ListActiveSavedSearches(ctx context.Context, limit int) ([]model.SavedSearch, error) {
	rows, err := b.db.QueryContext(ctx, b.q(
		`SELECT id, name, county, parcel_ids_json, min_score, require_any_groups_json, require_trigger_keys_json, require_tiers_json, channels_json, active, last_synced_at, created_at
		FROM saved_searches
		WHERE active = 1
		ORDER BY created_at ASC, id ASC
		LIMIT ?`), clampLimit(limit, 200))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SavedSearch
	for rows.Next() {
		var (
			s                                      model.SavedSearch
			parcels, groups, keys, tiers, channels string
			active                                 int
			lastSynced                             sql.NullString
			created                                string
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.County, &parcels, &s.MinScore, &groups, &keys, &tiers, &channels, &active, &lastSynced, &created); err != nil {
			return nil, err
		}
		decodeJSON(parcels, &s.ParcelIDs)
		decodeJSON(groups, &s.RequireAnyGroups)
		decodeJSON(keys, &s.RequireTriggerKeys)
		decodeJSON(tiers, &s.RequireTiers)
		decodeJSON(channels, &s.Channels)
		s.Active = active != 0
		if lastSynced.Valid {
			ts := parseTime(lastSynced.String)
			s.LastSyncedAt = &ts
		}
		s.CreatedAt = parseTime(created)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *baseStore) SetSavedSearchSynced(ctx context.Context, id string, at time.Time) error {
	_, err := b.db.ExecContext(ctx, b.q(
		`UPDATE saved_searches SET last_synced_at = ? WHERE id = ?`), formatTime(at), id)
	return err
}

// UpsertInboxItem surfaces an alert in a saved search inbox. A repeat of the
// same alert refreshes severity and score but keeps the item's status. It
// reports whether the item is new.
func (b *baseStore) UpsertInboxItem(ctx context.Context, item model.InboxItem) (bool, error) {
	if item.Status == "" {
		item.Status = model.InboxNew
	}
	res, err := b.db.ExecContext(ctx, b.q(
		`INSERT INTO saved_search_inbox (saved_search_id, alert_id, county, parcel_id, alert_key, severity, seller_score, status, surfaced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (saved_search_id, alert_id) DO NOTHING`),
		item.SavedSearchID,
		item.AlertID,
		item.County,
		item.ParcelID,
		item.AlertKey,
		item.Severity,
		item.SellerScore,
		string(item.Status),
		formatTime(item.SurfacedAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	_, err = b.db.ExecContext(ctx, b.q(
		`UPDATE saved_search_inbox SET severity = ?, seller_score = ?
		WHERE saved_search_id = ? AND alert_id = ?`),
		item.Severity, item.SellerScore, item.SavedSearchID, item.AlertID)
	return false, err
}

// ListUndelivered returns inbox items of the saved search with no ledger row
// for channel.
func (b *baseStore) ListUndelivered(ctx context.Context, savedSearchID, channel string, limit int) ([]model.InboxItem, error) {
	rows, err := b.db.QueryContext(ctx, b.q(
		`SELECT i.id, i.saved_search_id, i.alert_id, i.county, i.parcel_id, i.alert_key, i.severity, i.seller_score, i.status, i.surfaced_at
		FROM saved_search_inbox i
		WHERE i.saved_search_id = ?
			AND NOT EXISTS (SELECT 1 FROM alert_deliveries d WHERE d.alert_id = i.alert_id AND d.channel = ?)
		ORDER BY i.surfaced_at ASC, i.id ASC
		LIMIT ?`),
		savedSearchID, channel, clampLimit(limit, 500))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.InboxItem
	for rows.Next() {
		var (
			item     model.InboxItem
			status   string
			surfaced string
		)
		if err := rows.Scan(&item.ID, &item.SavedSearchID, &item.AlertID, &item.County, &item.ParcelID, &item.AlertKey,
			&item.Severity, &item.SellerScore, &status, &surfaced); err != nil {
			return nil, err
		}
		item.Status = model.InboxStatus(status)
		item.SurfacedAt = parseTime(surfaced)
		out = append(out, item)
	}
	return out, rows.Err()
}

// RecordDelivery appends to the delivery ledger. It returns false when the
// (alert_id, channel) pair was already recorded.
func (b *baseStore) RecordDelivery(ctx context.Context, d model.Delivery) (bool, error) {
	res, err := b.db.ExecContext(ctx, b.q(
		`INSERT INTO alert_deliveries (alert_id, channel, saved_search_id, delivered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (alert_id, channel) DO NOTHING`),
		d.AlertID, d.Channel, d.SavedSearchID, formatTime(d.DeliveredAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
