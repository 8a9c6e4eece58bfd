package connector

import (
	"context"
	"errors"
	"strings"
	"time"

	"parceltriggers/internal/model"
	"parceltriggers/internal/normalize"
	"parceltriggers/internal/taxonomy"
)

// permits reads the permits table. Permits that never took effect are
// dropped at normalization.
type permits struct {
	store     Store
	watermark Watermark
}

func newPermits(d Deps) (Connector, error) {
	if d.Store == nil {
		return nil, errors.New("store required")
	}
	return &permits{store: d.Store, watermark: newWatermark(d.Store, KeyPermits, d.Config)}, nil
}

func (c *permits) Key() string             { return KeyPermits }
func (c *permits) Domain() taxonomy.Domain { return taxonomy.DomainPermits }

func (c *permits) Poll(ctx context.Context, county string, now time.Time, limit int) ([]model.RawEvent, error) {
	return c.watermark.poll(ctx, county, now, limit, func(since time.Time) ([]model.RawEvent, error) {
		rows, err := c.store.ListPermits(ctx, county, since, limit)
		if err != nil {
			return nil, err
		}
		events := make([]model.RawEvent, 0, len(rows))
		for _, p := range rows {
			if strings.TrimSpace(p.ParcelID) == "" {
				continue
			}
			events = append(events, model.RawEvent{
				ConnectorKey: KeyPermits,
				County:       p.County,
				ParcelID:     p.ParcelID,
				ObservedAt:   p.IssuedAt,
				EventType:    "permit",
				Payload: map[string]any{
					"permit_number": p.PermitNumber,
					"permit_type":   p.PermitType,
					"description":   p.Description,
					"status":        p.Status,
					"valuation":     p.Valuation,
				},
			})
		}
		return events, nil
	})
}

var deadPermitStatus = []string{"void", "withdrawn", "expired", "cancel", "denied", "revoked"}

func (c *permits) Normalize(ev model.RawEvent, now time.Time) (model.TriggerEvent, bool) {
	if strings.TrimSpace(ev.ParcelID) == "" {
		return model.TriggerEvent{}, false
	}
	status := strings.ToLower(normalize.StringField(ev.Payload, "status"))
	for _, dead := range deadPermitStatus {
		if strings.Contains(status, dead) {
			return model.TriggerEvent{}, false
		}
	}
	permitType := normalize.StringField(ev.Payload, "permit_type")
	description := normalize.StringField(ev.Payload, "description")
	key := normalize.ClassifyPermit(ev.EventType, permitType, description)
	details := map[string]any{
		"permit_number": normalize.StringField(ev.Payload, "permit_number"),
		"permit_type":   permitType,
		"status":        status,
	}
	if v, ok := ev.Payload["valuation"]; ok {
		details["valuation"] = v
	}
	return triggerFrom(ev, key, taxonomy.DomainPermits, now, details), true
}
