package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"parceltriggers/internal/model"
	"parceltriggers/internal/taxonomy"
)

var DefaultFakeParcels = []string{"FAKE-0001", "FAKE-0002", "FAKE-0003", "FAKE-0004"}

// fakeScenarios cycle across the fixture parcels. Offsets are days before
// the poll day.
var fakeScenarios = [][]struct {
	key    taxonomy.Key
	offset int
}{
	{{taxonomy.LisPendens, 2}, {taxonomy.PermitRoof, 5}},
	{{taxonomy.PermitIssued, 1}, {taxonomy.OwnerMailingChanged, 3}},
	{{taxonomy.MechanicsLien, 4}, {taxonomy.DelinquentTax, 6}},
	{{taxonomy.CodeViolation, 2}, {taxonomy.PermitRemodel, 8}, {taxonomy.AssessedValueChanged, 9}},
}

// fake emits deterministic events for fixture parcels. The same poll day
// always yields the same events, so repeated ticks dedupe.
type fake struct {
	parcels   []string
	watermark Watermark
}

func newFake(d Deps) (Connector, error) {
	parcels := d.Config.Fake.Parcels
	if len(parcels) == 0 {
		parcels = DefaultFakeParcels
	}
	return &fake{parcels: parcels, watermark: newWatermark(d.Store, KeyFake, d.Config)}, nil
}

func (c *fake) Key() string { return KeyFake }

// Domain is empty: fake events take the default domain of their key.
func (c *fake) Domain() taxonomy.Domain { return "" }

func (c *fake) Poll(ctx context.Context, county string, now time.Time, limit int) ([]model.RawEvent, error) {
	day := now.UTC().Truncate(24 * time.Hour)
	return c.watermark.poll(ctx, county, now, limit, func(since time.Time) ([]model.RawEvent, error) {
		var events []model.RawEvent
		for i, parcel := range c.parcels {
			parcel = strings.TrimSpace(parcel)
			if parcel == "" {
				continue
			}
			for _, step := range fakeScenarios[i%len(fakeScenarios)] {
				observed := day.Add(-time.Duration(step.offset) * 24 * time.Hour)
				if observed.Before(since) {
					continue
				}
				events = append(events, model.RawEvent{
					ConnectorKey: KeyFake,
					County:       county,
					ParcelID:     parcel,
					ObservedAt:   observed,
					EventType:    string(step.key),
					Payload:      map[string]any{"fixture": fmt.Sprintf("%s/%d", parcel, i)},
				})
			}
		}
		return events, nil
	})
}

func (c *fake) Normalize(ev model.RawEvent, now time.Time) (model.TriggerEvent, bool) {
	key := taxonomy.Key(ev.EventType)
	domain, ok := taxonomy.DomainOf(key)
	if !ok || strings.TrimSpace(ev.ParcelID) == "" {
		return model.TriggerEvent{}, false
	}
	return triggerFrom(ev, key, domain, now, map[string]any{"fixture": true}), true
}
