package ingest

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParsePlainText(t *testing.T) {
	p := NewParser()
	line := `2026-02-23 12:34:56 county=lee parcel_id=10-44-25-P1 event_type=lis_pendens case="2026-CA-1"`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want := Fields{
		"observed_at": "2026-02-23 12:34:56",
		"county":      "lee",
		"parcel_id":   "10-44-25-P1",
		"event_type":  "lis_pendens",
		"case":        "2026-CA-1",
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser()
	if _, err := p.ParseLine("P-0,tax_lien,2026-01-01"); !errors.Is(err, errMissingHeader) {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if fields, err := p.ParseLine("Parcel ID,event_type,observed_at,amount"); fields != nil || err != nil {
		t.Fatalf("expected header to return nil, got %v %v", fields, err)
	}
	fields, err := p.ParseLine("P-1, tax_lien, 2026-01-05,")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want := Fields{"parcel_id": "P-1", "event_type": "tax_lien", "observed_at": "2026-01-05"}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestParseJSONKeepsNumberLiterals(t *testing.T) {
	p := NewParser()
	line := `{"Parcel_ID":123456789012,"county":"lee","valuation":1500000,"owner":{"name":"X"},"note":null}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want := Fields{
		"parcel_id": "123456789012",
		"county":    "lee",
		"valuation": "1500000",
		"owner":     `{"name":"X"}`,
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Fatalf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestParseBlankLine(t *testing.T) {
	fields, err := NewParser().ParseLine("   ")
	if fields != nil || err != nil {
		t.Fatalf("blank line = %v, %v", fields, err)
	}
}
