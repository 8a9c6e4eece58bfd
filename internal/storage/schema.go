package storage

import (
	"fmt"
	"strings"

	"parceltriggers/internal/taxonomy"
)

// schema renders the DDL for one dialect. idType is the auto-increment
// primary key declaration and jsonType the column type for JSON blobs.
func schema(idType, jsonType string) []string {
	var groups []string
	for _, d := range taxonomy.Domains() {
		groups = append(groups, fmt.Sprintf("%s INTEGER NOT NULL DEFAULT 0", groupColumn(d)))
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS trigger_raw_events (
			id ` + idType + `,
			run_id TEXT NOT NULL,
			connector_key TEXT NOT NULL,
			county TEXT NOT NULL,
			parcel_id TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload_json ` + jsonType + ` NOT NULL,
			fingerprint TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_events_connector_county ON trigger_raw_events(connector_key, county, observed_at)`,
		`CREATE TABLE IF NOT EXISTS trigger_events (
			id ` + idType + `,
			run_id TEXT NOT NULL,
			county TEXT NOT NULL,
			parcel_id TEXT NOT NULL,
			trigger_key TEXT NOT NULL,
			trigger_at TEXT NOT NULL,
			severity INTEGER NOT NULL,
			domain TEXT NOT NULL,
			source_connector_key TEXT NOT NULL,
			source_event_type TEXT NOT NULL,
			source_event_id BIGINT,
			details_json ` + jsonType + `,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trigger_events_county_at ON trigger_events(county, trigger_at)`,
		`CREATE INDEX IF NOT EXISTS idx_trigger_events_parcel ON trigger_events(county, parcel_id, trigger_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trigger_events_source ON trigger_events(source_event_id)`,
		`CREATE TABLE IF NOT EXISTS trigger_alerts (
			id ` + idType + `,
			county TEXT NOT NULL,
			parcel_id TEXT NOT NULL,
			alert_key TEXT NOT NULL,
			severity INTEGER NOT NULL,
			first_seen_at TEXT NOT NULL,
			last_seen_at TEXT NOT NULL,
			status TEXT NOT NULL,
			details_json ` + jsonType + `,
			UNIQUE (county, parcel_id, alert_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trigger_alerts_seen ON trigger_alerts(county, last_seen_at)`,
		`CREATE TABLE IF NOT EXISTS trigger_alert_events (
			alert_id BIGINT NOT NULL,
			trigger_event_id BIGINT NOT NULL,
			PRIMARY KEY (alert_id, trigger_event_id)
		)`,
		`CREATE TABLE IF NOT EXISTS parcel_trigger_rollups (
			county TEXT NOT NULL,
			parcel_id TEXT NOT NULL,
			critical_count INTEGER NOT NULL,
			strong_count INTEGER NOT NULL,
			support_count INTEGER NOT NULL,
			total_count INTEGER NOT NULL,
			` + strings.Join(groups, ",\n\t\t\t") + `,
			trigger_keys_json ` + jsonType + ` NOT NULL,
			last_trigger_at TEXT NOT NULL,
			last_by_group_json ` + jsonType + ` NOT NULL,
			seller_score INTEGER NOT NULL,
			rule TEXT NOT NULL,
			details_json ` + jsonType + `,
			rebuilt_at TEXT NOT NULL,
			PRIMARY KEY (county, parcel_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rollups_score ON parcel_trigger_rollups(county, seller_score)`,
		`CREATE TABLE IF NOT EXISTS parcel_trigger_rollup_keys (
			county TEXT NOT NULL,
			parcel_id TEXT NOT NULL,
			trigger_key TEXT NOT NULL,
			PRIMARY KEY (county, parcel_id, trigger_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rollup_keys_key ON parcel_trigger_rollup_keys(county, trigger_key)`,
		`CREATE TABLE IF NOT EXISTS connector_watermarks (
			connector_key TEXT NOT NULL,
			county TEXT NOT NULL,
			watermark TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (connector_key, county)
		)`,
		`CREATE TABLE IF NOT EXISTS source_records (
			id ` + idType + `,
			domain TEXT NOT NULL,
			county TEXT NOT NULL,
			parcel_id TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload_json ` + jsonType + ` NOT NULL,
			fingerprint TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_source_records_domain ON source_records(domain, county, observed_at)`,
		`CREATE TABLE IF NOT EXISTS permits (
			id ` + idType + `,
			county TEXT NOT NULL,
			parcel_id TEXT NOT NULL,
			permit_number TEXT NOT NULL,
			permit_type TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			issued_at TEXT NOT NULL,
			valuation DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL,
			UNIQUE (county, permit_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_permits_issued ON permits(county, issued_at)`,
		`CREATE TABLE IF NOT EXISTS scheduler_locks (
			lock_name TEXT PRIMARY KEY,
			held_by_pid INTEGER NOT NULL,
			heartbeat_at TEXT NOT NULL,
			ttl_seconds INTEGER NOT NULL,
			acquired_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS saved_searches (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			county TEXT NOT NULL,
			parcel_ids_json ` + jsonType + ` NOT NULL,
			min_score INTEGER NOT NULL DEFAULT 0,
			require_any_groups_json ` + jsonType + ` NOT NULL,
			require_trigger_keys_json ` + jsonType + ` NOT NULL,
			require_tiers_json ` + jsonType + ` NOT NULL,
			channels_json ` + jsonType + ` NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			last_synced_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS saved_search_inbox (
			id ` + idType + `,
			saved_search_id TEXT NOT NULL,
			alert_id BIGINT NOT NULL,
			county TEXT NOT NULL,
			parcel_id TEXT NOT NULL,
			alert_key TEXT NOT NULL,
			severity INTEGER NOT NULL,
			seller_score INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			surfaced_at TEXT NOT NULL,
			UNIQUE (saved_search_id, alert_id)
		)`,
		`CREATE TABLE IF NOT EXISTS alert_deliveries (
			alert_id BIGINT NOT NULL,
			channel TEXT NOT NULL,
			saved_search_id TEXT NOT NULL,
			delivered_at TEXT NOT NULL,
			PRIMARY KEY (alert_id, channel)
		)`,
	}
}
