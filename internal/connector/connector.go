package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"parceltriggers/internal/config"
	"parceltriggers/internal/model"
	"parceltriggers/internal/storage"
	"parceltriggers/internal/taxonomy"
)

// Connector pulls raw events for one data source and maps them onto
// trigger keys. Poll is incremental per county; Normalize is pure.
type Connector interface {
	Key() string
	Domain() taxonomy.Domain
	Poll(ctx context.Context, county string, now time.Time, limit int) ([]model.RawEvent, error)
	Normalize(ev model.RawEvent, now time.Time) (model.TriggerEvent, bool)
}

// Store is the slice of storage the connectors read.
type Store interface {
	storage.WatermarkStore
	storage.StagingStore
}

type Deps struct {
	Store      Store
	Config     config.ConnectorsConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Factory func(Deps) (Connector, error)

var ErrUnknownConnector = errors.New("unknown connector")

type UnknownConnectorError struct {
	Key string
}

func (e *UnknownConnectorError) Error() string {
	return fmt.Sprintf("unknown connector %q", e.Key)
}

func (e *UnknownConnectorError) Is(target error) bool {
	return target == ErrUnknownConnector
}

type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(key string, f Factory) {
	r.factories[key] = f
}

func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) Has(key string) bool {
	_, ok := r.factories[key]
	return ok
}

// Validate returns an UnknownConnectorError for the first unregistered key.
func (r *Registry) Validate(keys []string) error {
	for _, k := range keys {
		if !r.Has(k) {
			return &UnknownConnectorError{Key: k}
		}
	}
	return nil
}

func (r *Registry) Build(key string, deps Deps) (Connector, error) {
	f, ok := r.factories[key]
	if !ok {
		return nil, &UnknownConnectorError{Key: key}
	}
	c, err := f(deps)
	if err != nil {
		return nil, fmt.Errorf("build connector %s: %w", key, err)
	}
	return c, nil
}

// DefaultRegistry registers every built-in connector. It fails when the
// taxonomy table is inconsistent.
func DefaultRegistry() (*Registry, error) {
	if err := taxonomy.Validate(); err != nil {
		return nil, fmt.Errorf("taxonomy: %w", err)
	}
	r := NewRegistry()
	r.Register(KeyPermits, newPermits)
	for key, domain := range stagedDomains {
		r.Register(key, stagedFactory(key, domain))
	}
	r.Register(KeyCodeEnforcementLive, liveFactory(KeyCodeEnforcementLive, taxonomy.DomainCodeEnforcement,
		func(c config.ConnectorsConfig) config.LiveConfig { return c.CodeEnforcementLive }))
	r.Register(KeyPropertyAppraiserLive, liveFactory(KeyPropertyAppraiserLive, taxonomy.DomainPropertyAppraiser,
		func(c config.ConnectorsConfig) config.LiveConfig { return c.PropertyAppraiserLive }))
	r.Register(KeyFake, newFake)
	return r, nil
}

// DefaultKeys are the connectors a tick runs when none are requested: the
// store-backed sources plus the live feeds, which stay silent unless enabled.
func DefaultKeys() []string {
	return []string{
		KeyPermits,
		KeyLiens,
		KeyTaxCollector,
		KeyCodeEnforcement,
		KeyCourts,
		KeyOfficialRecords,
		KeyPropertyAppraiser,
		KeyCodeEnforcementLive,
		KeyPropertyAppraiserLive,
	}
}

// newestFirst sorts events by observed_at descending and trims to limit.
func newestFirst(events []model.RawEvent, limit int) []model.RawEvent {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ObservedAt.After(events[j].ObservedAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

// oldestFirst sorts events by observed_at ascending and keeps the oldest
// limit of them.
func oldestFirst(events []model.RawEvent, limit int) []model.RawEvent {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].ObservedAt.Before(events[j].ObservedAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

// triggerFrom builds the trigger event for ev classified as key.
func triggerFrom(ev model.RawEvent, key taxonomy.Key, domain taxonomy.Domain, now time.Time, details map[string]any) model.TriggerEvent {
	at := ev.ObservedAt
	if at.IsZero() {
		at = now
	}
	if details == nil {
		details = map[string]any{}
	}
	te := model.TriggerEvent{
		County:             ev.County,
		ParcelID:           ev.ParcelID,
		TriggerKey:         key,
		TriggerAt:          at.UTC(),
		Severity:           taxonomy.SeverityFor(key),
		Domain:             domain,
		SourceConnectorKey: ev.ConnectorKey,
		SourceEventType:    ev.EventType,
		Details:            details,
	}
	if ev.ID != 0 {
		id := ev.ID
		te.SourceEventID = &id
	}
	return te
}
