package model

import (
	"time"

	"parceltriggers/internal/taxonomy"
)

type RawEvent struct {
	ID           int64          `json:"id,omitempty"`
	ConnectorKey string         `json:"connector_key"`
	County       string         `json:"county"`
	ParcelID     string         `json:"parcel_id"`
	ObservedAt   time.Time      `json:"observed_at"`
	EventType    string         `json:"event_type"`
	Payload      map[string]any `json:"payload,omitempty"`
}

func (e RawEvent) Fingerprint() string {
	return fingerprint(e.ConnectorKey, e.County, e.ParcelID, formatInstant(e.ObservedAt), e.EventType, canonicalJSON(e.Payload))
}

type TriggerEvent struct {
	ID                 int64           `json:"id,omitempty"`
	County             string          `json:"county"`
	ParcelID           string          `json:"parcel_id"`
	TriggerKey         taxonomy.Key    `json:"trigger_key"`
	TriggerAt          time.Time       `json:"trigger_at"`
	Severity           int             `json:"severity"`
	Domain             taxonomy.Domain `json:"domain"`
	SourceConnectorKey string          `json:"source_connector_key"`
	SourceEventType    string          `json:"source_event_type"`
	SourceEventID      *int64          `json:"source_event_id,omitempty"`
	Details            map[string]any  `json:"details,omitempty"`
}

type AlertStatus string

const (
	AlertOpen   AlertStatus = "open"
	AlertClosed AlertStatus = "closed"
)

const (
	AlertSellerIntent        = "seller_intent"
	AlertPermitActivity      = "permit_activity"
	AlertOwnerMoved          = "owner_moved"
	AlertRedevelopmentSignal = "redevelopment_signal"
)

type Alert struct {
	ID              int64          `json:"id,omitempty"`
	County          string         `json:"county"`
	ParcelID        string         `json:"parcel_id"`
	AlertKey        string         `json:"alert_key"`
	Severity        int            `json:"severity"`
	FirstSeenAt     time.Time      `json:"first_seen_at"`
	LastSeenAt      time.Time      `json:"last_seen_at"`
	Status          AlertStatus    `json:"status"`
	TriggerEventIDs []int64        `json:"trigger_event_ids"`
	Details         map[string]any `json:"details,omitempty"`
}

type Rollup struct {
	County        string                        `json:"county"`
	ParcelID      string                        `json:"parcel_id"`
	CriticalCount int                           `json:"critical_count"`
	StrongCount   int                           `json:"strong_count"`
	SupportCount  int                           `json:"support_count"`
	TotalCount    int                           `json:"total_count"`
	Groups        map[taxonomy.Domain]bool      `json:"groups"`
	TriggerKeys   []taxonomy.Key                `json:"trigger_keys"`
	LastTriggerAt time.Time                     `json:"last_trigger_at"`
	LastByGroup   map[taxonomy.Domain]time.Time `json:"last_trigger_at_by_group"`
	SellerScore   int                           `json:"seller_score"`
	Rule          string                        `json:"rule"`
	Details       map[string]any                `json:"details,omitempty"`
	RebuiltAt     time.Time                     `json:"rebuilt_at"`
}

type RollupQuery struct {
	County             string
	ParcelIDs          []string
	MinScore           int
	RequireAnyGroups   []taxonomy.Domain
	RequireTriggerKeys []taxonomy.Key
	RequireTiers       []taxonomy.Tier
	Limit              int
	Offset             int
}

type LockStatus struct {
	LockName    string    `json:"lock_name"`
	Acquired    bool      `json:"acquired"`
	HeldByPID   int       `json:"held_by_pid"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
	TTLSeconds  int       `json:"ttl_seconds"`
}

type RunSummary struct {
	OK                 bool   `json:"ok"`
	RunID              string `json:"run_id,omitempty"`
	County             string `json:"county"`
	Connector          string `json:"connector"`
	RawEventsCount     int    `json:"raw_events_count"`
	NewRawEventsCount  int    `json:"new_raw_events_count"`
	TriggerEventsCount int    `json:"trigger_events_count"`
	AlertsWritten      int    `json:"alerts_written"`
	Error              string `json:"error,omitempty"`
}

type RollupSummary struct {
	County    string    `json:"county"`
	Parcels   int       `json:"parcels"`
	Events    int       `json:"events"`
	Scored    int       `json:"scored"`
	RebuiltAt time.Time `json:"rebuilt_at"`
}

// SourceRecord is scraper output staged for a stub connector to poll.
type SourceRecord struct {
	ID         int64           `json:"id,omitempty"`
	Domain     taxonomy.Domain `json:"domain"`
	County     string          `json:"county"`
	ParcelID   string          `json:"parcel_id"`
	ObservedAt time.Time       `json:"observed_at"`
	EventType  string          `json:"event_type"`
	Payload    map[string]any  `json:"payload,omitempty"`
}

func (r SourceRecord) Fingerprint() string {
	return fingerprint(string(r.Domain), r.County, r.ParcelID, formatInstant(r.ObservedAt), r.EventType, canonicalJSON(r.Payload))
}

type Permit struct {
	ID           int64     `json:"id,omitempty"`
	County       string    `json:"county"`
	ParcelID     string    `json:"parcel_id"`
	PermitNumber string    `json:"permit_number"`
	PermitType   string    `json:"permit_type"`
	Description  string    `json:"description"`
	Status       string    `json:"status"`
	IssuedAt     time.Time `json:"issued_at"`
	Valuation    float64   `json:"valuation"`
}

type SavedSearch struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	County             string            `json:"county"`
	ParcelIDs          []string          `json:"parcel_ids,omitempty"`
	MinScore           int               `json:"min_score"`
	RequireAnyGroups   []taxonomy.Domain `json:"require_any_groups,omitempty"`
	RequireTriggerKeys []taxonomy.Key    `json:"require_trigger_keys,omitempty"`
	RequireTiers       []taxonomy.Tier   `json:"require_tiers,omitempty"`
	Channels           []string          `json:"channels"`
	Active             bool              `json:"active"`
	LastSyncedAt       *time.Time        `json:"last_synced_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// Query maps the saved search filters onto a rollup search.
func (s SavedSearch) Query(limit int) RollupQuery {
	return RollupQuery{
		County:             s.County,
		ParcelIDs:          s.ParcelIDs,
		MinScore:           s.MinScore,
		RequireAnyGroups:   s.RequireAnyGroups,
		RequireTriggerKeys: s.RequireTriggerKeys,
		RequireTiers:       s.RequireTiers,
		Limit:              limit,
	}
}

type InboxStatus string

const (
	InboxNew    InboxStatus = "new"
	InboxRead   InboxStatus = "read"
	InboxClosed InboxStatus = "closed"
)

type InboxItem struct {
	ID            int64       `json:"id,omitempty"`
	SavedSearchID string      `json:"saved_search_id"`
	AlertID       int64       `json:"alert_id"`
	County        string      `json:"county"`
	ParcelID      string      `json:"parcel_id"`
	AlertKey      string      `json:"alert_key"`
	Severity      int         `json:"severity"`
	SellerScore   int         `json:"seller_score"`
	Status        InboxStatus `json:"status"`
	SurfacedAt    time.Time   `json:"surfaced_at"`
}

type Delivery struct {
	AlertID       int64     `json:"alert_id"`
	Channel       string    `json:"channel"`
	SavedSearchID string    `json:"saved_search_id"`
	DeliveredAt   time.Time `json:"delivered_at"`
}
