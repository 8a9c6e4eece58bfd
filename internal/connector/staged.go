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

const (
	KeyPermits               = "permits"
	KeyLiens                 = "liens"
	KeyTaxCollector          = "tax_collector"
	KeyCodeEnforcement       = "code_enforcement"
	KeyCourts                = "courts"
	KeyOfficialRecords       = "official_records"
	KeyPropertyAppraiser     = "property_appraiser"
	KeyCodeEnforcementLive   = "code_enforcement_live"
	KeyPropertyAppraiserLive = "property_appraiser_live"
	KeyFake                  = "fake"
)

var stagedDomains = map[string]taxonomy.Domain{
	KeyLiens:             taxonomy.DomainLiens,
	KeyTaxCollector:      taxonomy.DomainTaxCollector,
	KeyCodeEnforcement:   taxonomy.DomainCodeEnforcement,
	KeyCourts:            taxonomy.DomainCourts,
	KeyOfficialRecords:   taxonomy.DomainOfficialRecords,
	KeyPropertyAppraiser: taxonomy.DomainPropertyAppraiser,
}

// textFields are the payload keys scrapers use for free text, in the order
// they are fed to the classifiers.
var textFields = []string{
	"document_type", "doc_type", "instrument", "case_type", "type",
	"title", "description", "status", "text", "notes",
}

func payloadText(payload map[string]any) []string {
	var out []string
	for _, k := range textFields {
		if s := normalize.StringField(payload, k); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// staged reads scraper output for one domain from the source_records table.
type staged struct {
	key       string
	domain    taxonomy.Domain
	store     Store
	watermark Watermark
}

func stagedFactory(key string, domain taxonomy.Domain) Factory {
	return func(d Deps) (Connector, error) {
		if d.Store == nil {
			return nil, errors.New("store required")
		}
		return &staged{
			key:       key,
			domain:    domain,
			store:     d.Store,
			watermark: newWatermark(d.Store, key, d.Config),
		}, nil
	}
}

func (c *staged) Key() string             { return c.key }
func (c *staged) Domain() taxonomy.Domain { return c.domain }

func (c *staged) Poll(ctx context.Context, county string, now time.Time, limit int) ([]model.RawEvent, error) {
	return c.watermark.poll(ctx, county, now, limit, func(since time.Time) ([]model.RawEvent, error) {
		records, err := c.store.ListSourceRecords(ctx, c.domain, county, since, limit)
		if err != nil {
			return nil, err
		}
		events := make([]model.RawEvent, 0, len(records))
		for _, r := range records {
			if strings.TrimSpace(r.ParcelID) == "" {
				continue
			}
			events = append(events, model.RawEvent{
				ConnectorKey: c.key,
				County:       r.County,
				ParcelID:     r.ParcelID,
				ObservedAt:   r.ObservedAt,
				EventType:    r.EventType,
				Payload:      r.Payload,
			})
		}
		return events, nil
	})
}

func (c *staged) Normalize(ev model.RawEvent, now time.Time) (model.TriggerEvent, bool) {
	if strings.TrimSpace(ev.ParcelID) == "" {
		return model.TriggerEvent{}, false
	}
	text := payloadText(ev.Payload)
	key := normalize.Classify(c.domain, ev.EventType, text...)
	details := map[string]any{"text": strings.Join(text, " | ")}
	if ref := normalize.StringField(ev.Payload, "document_number", "case_number", "instrument_number"); ref != "" {
		details["reference"] = ref
	}
	return triggerFrom(ev, key, c.domain, now, details), true
}
