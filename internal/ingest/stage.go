package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"parceltriggers/internal/model"
	"parceltriggers/internal/normalize"
	"parceltriggers/internal/taxonomy"
)

// Options are the defaults applied to lines that leave a column out.
type Options struct {
	Domain   taxonomy.Domain
	County   string
	Location *time.Location
}

var reserved = map[string]bool{
	"domain": true, "source": true, "county": true,
	"parcel_id": true, "parcel": true, "folio": true, "pin": true, "apn": true,
	"observed_at": true, "timestamp": true, "recorded_at": true, "filed_at": true, "date": true, "ts": true,
	"event_type": true, "type": true, "doc_type": true, "case_type": true,
}

// Batch collects staged rows until they are flushed to storage.
type Batch struct {
	Records []model.SourceRecord
	Permits []model.Permit
}

func (b *Batch) Len() int { return len(b.Records) + len(b.Permits) }

func (b *Batch) Reset() {
	b.Records = b.Records[:0]
	b.Permits = b.Permits[:0]
}

// Add stages fields as a permit row or a source record. Lines without a
// parcel id, a usable date or a known domain are rejected.
func (b *Batch) Add(fields Fields, opts Options) error {
	domain := taxonomy.Domain(strings.ToLower(firstNonEmpty(fields, "domain", "source")))
	if domain == "" {
		domain = opts.Domain
	}
	if !taxonomy.ValidDomain(domain) {
		return fmt.Errorf("unknown domain %q", domain)
	}
	county := strings.ToLower(firstNonEmpty(fields, "county"))
	if county == "" {
		county = opts.County
	}
	if county == "" {
		return errors.New("county required")
	}
	parcel := firstNonEmpty(fields, "parcel_id", "parcel", "folio", "pin", "apn")
	if parcel == "" {
		return errors.New("parcel id required")
	}
	if domain == taxonomy.DomainPermits {
		p, err := permitFrom(fields, county, parcel, opts.Location)
		if err != nil {
			return err
		}
		b.Permits = append(b.Permits, p)
		return nil
	}
	observed, err := normalize.ParseTimestamp(firstNonEmpty(fields, "observed_at", "timestamp", "recorded_at", "filed_at", "date", "ts"), opts.Location)
	if err != nil {
		return fmt.Errorf("observed_at: %w", err)
	}
	payload := make(map[string]any)
	for k, v := range fields {
		if !reserved[k] {
			payload[k] = v
		}
	}
	b.Records = append(b.Records, model.SourceRecord{
		Domain:     domain,
		County:     county,
		ParcelID:   parcel,
		ObservedAt: observed,
		EventType:  strings.ToLower(firstNonEmpty(fields, "event_type", "type", "doc_type", "case_type")),
		Payload:    payload,
	})
	return nil
}

func permitFrom(fields Fields, county, parcel string, loc *time.Location) (model.Permit, error) {
	number := firstNonEmpty(fields, "permit_number", "permit_no", "permit")
	if number == "" {
		return model.Permit{}, errors.New("permit number required")
	}
	issued, err := normalize.ParseTimestamp(firstNonEmpty(fields, "issued_at", "issue_date", "issued", "observed_at", "date"), loc)
	if err != nil {
		return model.Permit{}, fmt.Errorf("issued_at: %w", err)
	}
	return model.Permit{
		County:       county,
		ParcelID:     parcel,
		PermitNumber: number,
		PermitType:   firstNonEmpty(fields, "permit_type", "event_type", "type", "work_class"),
		Description:  firstNonEmpty(fields, "description", "desc", "scope"),
		Status:       strings.ToLower(firstNonEmpty(fields, "status")),
		IssuedAt:     issued,
		Valuation:    parseMoney(firstNonEmpty(fields, "valuation", "job_value", "value")),
	}, nil
}

func parseMoney(s string) float64 {
	s = strings.NewReplacer("$", "", ",", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
