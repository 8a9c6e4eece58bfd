package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"parceltriggers/internal/config"
	"parceltriggers/internal/model"
	"parceltriggers/internal/taxonomy"
)

type EventStore interface {
	InsertTriggerRawEvents(ctx context.Context, events []model.RawEvent, runID string) ([]int64, error)
	InsertTriggerEvents(ctx context.Context, events []model.TriggerEvent, runID string) ([]int64, error)
	IngestRawEvents(ctx context.Context, events []model.RawEvent, runID string, normalize func(model.RawEvent) (model.TriggerEvent, bool)) (int, []model.TriggerEvent, error)
	ListTriggerEventsForCounty(ctx context.Context, county string, since time.Time, limit int) ([]model.TriggerEvent, error)
	ListTriggerEventsForParcel(ctx context.Context, county, parcelID string, limit int) ([]model.TriggerEvent, error)
}

type AlertStore interface {
	UpsertTriggerAlert(ctx context.Context, alert model.Alert) (int64, bool, error)
	ListTriggerAlertsForParcel(ctx context.Context, county, parcelID string, status model.AlertStatus, limit int) ([]model.Alert, error)
	ListTriggerAlertsSince(ctx context.Context, county string, since time.Time, parcelIDs []string) ([]model.Alert, error)
}

type RollupStore interface {
	ReplaceParcelRollups(ctx context.Context, county string, rollups []model.Rollup) error
	GetRollupForParcel(ctx context.Context, county, parcelID string) (*model.Rollup, error)
	SearchRollups(ctx context.Context, q model.RollupQuery) ([]model.Rollup, error)
}

type WatermarkStore interface {
	GetWatermark(ctx context.Context, connectorKey, county string) (time.Time, bool, error)
	SetWatermark(ctx context.Context, connectorKey, county string, watermark time.Time) error
}

type StagingStore interface {
	InsertSourceRecords(ctx context.Context, records []model.SourceRecord) (int, error)
	ListSourceRecords(ctx context.Context, domain taxonomy.Domain, county string, since time.Time, limit int) ([]model.SourceRecord, error)
	InsertPermits(ctx context.Context, permits []model.Permit) (int, error)
	ListPermits(ctx context.Context, county string, since time.Time, limit int) ([]model.Permit, error)
}

type LockStore interface {
	AcquireSchedulerLock(ctx context.Context, name string, now time.Time, ttl time.Duration, pid int) (model.LockStatus, error)
	RefreshSchedulerLock(ctx context.Context, name string, now time.Time, ttl time.Duration, pid int) (model.LockStatus, error)
	ReleaseSchedulerLock(ctx context.Context, name string, pid int) (bool, error)
}

type WatchlistStore interface {
	UpsertSavedSearch(ctx context.Context, s model.SavedSearch) error
	ListActiveSavedSearches(ctx context.Context, limit int) ([]model.SavedSearch, error)
	SetSavedSearchSynced(ctx context.Context, id string, at time.Time) error
	UpsertInboxItem(ctx context.Context, item model.InboxItem) (bool, error)
	ListUndelivered(ctx context.Context, savedSearchID, channel string, limit int) ([]model.InboxItem, error)
	RecordDelivery(ctx context.Context, d model.Delivery) (bool, error)
}

type Store interface {
	Init(ctx context.Context) error
	Close() error
	EventStore
	AlertStore
	RollupStore
	WatermarkStore
	StagingStore
	LockStore
	WatchlistStore
}

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
}

// Open builds the store for cfg and creates its schema.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init %s store: %w", cfg.Driver, err)
	}
	return store, nil
}

type baseStore struct {
	db     *sql.DB
	rebind func(string) string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) q(query string) string {
	if b.rebind == nil {
		return query
	}
	return b.rebind(query)
}

func (b *baseStore) initSchema(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// dollarRebind rewrites ? placeholders as $1..$n.
func dollarRebind(query string) string {
	var sb strings.Builder
	sb.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

// Timestamps are stored as fixed-width UTC text so they compare correctly as
// strings on every driver.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeJSON(raw string, out any) {
	if raw == "" || raw == "null" {
		return
	}
	_ = json.Unmarshal([]byte(raw), out)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

type rowScanner interface {
	Scan(dest ...any) error
}
