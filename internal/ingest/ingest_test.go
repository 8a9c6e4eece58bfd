package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"parceltriggers/internal/config"
	"parceltriggers/internal/storage"
	"parceltriggers/internal/taxonomy"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(), config.StorageConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var testOptions = Options{Domain: taxonomy.DomainLiens, County: "lee", Location: time.UTC}

const mixedInput = `{"domain":"courts","county":"lee","parcel_id":"P-1","event_type":"lis_pendens","observed_at":"2026-03-01T10:00:00Z","case_number":"26-CA-9"}
domain=permits county=lee parcel_id=P-2 permit_number=B26-001 permit_type=roof issued_at=2026-03-02 valuation=$12,500
parcel_id,event_type,observed_at
P-3,tax_lien,03/04/2026
P-4,tax_lien,not-a-date

`

func TestLoadStagesRecordsAndPermits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	loader := NewLoader(store, testOptions, nil, nil)

	sum, err := loader.Load(ctx, "file", strings.NewReader(mixedInput))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := Summary{Source: "file", Lines: 6, Records: 2, Permits: 1, Inserted: 3, Skipped: 1}
	if sum != want {
		t.Fatalf("summary = %+v, want %+v", sum, want)
	}

	courts, err := store.ListSourceRecords(ctx, taxonomy.DomainCourts, "lee", time.Time{}, 10)
	if err != nil || len(courts) != 1 {
		t.Fatalf("courts records = %+v, %v", courts, err)
	}
	if courts[0].EventType != "lis_pendens" || courts[0].Payload["case_number"] != "26-CA-9" {
		t.Fatalf("courts record = %+v", courts[0])
	}
	liens, err := store.ListSourceRecords(ctx, taxonomy.DomainLiens, "lee", time.Time{}, 10)
	if err != nil || len(liens) != 1 {
		t.Fatalf("lien records = %+v, %v", liens, err)
	}
	if !liens[0].ObservedAt.Equal(time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("lien observed_at = %s", liens[0].ObservedAt)
	}
	permits, err := store.ListPermits(ctx, "lee", time.Time{}, 10)
	if err != nil || len(permits) != 1 {
		t.Fatalf("permits = %+v, %v", permits, err)
	}
	if permits[0].PermitNumber != "B26-001" || permits[0].PermitType != "roof" || permits[0].Valuation != 12500 {
		t.Fatalf("permit = %+v", permits[0])
	}

	again, err := NewLoader(store, testOptions, nil, nil).Load(ctx, "file", strings.NewReader(mixedInput))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Records != 2 || again.Inserted != 1 {
		t.Fatalf("reload summary = %+v, want only the permit rewritten", again)
	}
}

func TestBatchRejectsIncompleteLines(t *testing.T) {
	cases := []struct {
		name   string
		fields Fields
	}{
		{"no parcel", Fields{"event_type": "tax_lien", "observed_at": "2026-01-01"}},
		{"bad domain", Fields{"domain": "weather", "parcel_id": "P-1", "observed_at": "2026-01-01"}},
		{"no date", Fields{"parcel_id": "P-1", "event_type": "tax_lien"}},
		{"permit without number", Fields{"domain": "permits", "parcel_id": "P-1", "issued_at": "2026-01-01"}},
	}
	for _, tc := range cases {
		var b Batch
		if err := b.Add(tc.fields, testOptions); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if b.Len() != 0 {
			t.Fatalf("%s: batch len = %d", tc.name, b.Len())
		}
	}
	var b Batch
	if err := b.Add(Fields{"parcel_id": "P-1", "observed_at": "2026-01-01"}, Options{Domain: taxonomy.DomainLiens}); err == nil {
		t.Fatal("expected county error")
	}
}

type fakeReader struct {
	msgs []kafka.Message
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumeStopsWhenIdle(t *testing.T) {
	store := newTestStore(t)
	reader := &fakeReader{}
	for _, line := range strings.Split(strings.TrimSpace(mixedInput), "\n") {
		reader.msgs = append(reader.msgs, kafka.Message{Value: []byte(line)})
	}

	sum, err := consume(context.Background(), reader, NewLoader(store, testOptions, nil, nil), ConsumeOptions{IdleTimeout: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if sum.Source != "kafka" || sum.Lines != 5 || sum.Inserted != 3 || sum.Skipped != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestConsumeHonoursLimit(t *testing.T) {
	store := newTestStore(t)
	reader := &fakeReader{msgs: []kafka.Message{
		{Value: []byte(`{"parcel_id":"P-1","event_type":"tax_lien","observed_at":"2026-01-01"}`)},
		{Value: []byte(`{"parcel_id":"P-2","event_type":"tax_lien","observed_at":"2026-01-02"}`)},
		{Value: []byte(`{"parcel_id":"P-3","event_type":"tax_lien","observed_at":"2026-01-03"}`)},
	}}

	sum, err := consume(context.Background(), reader, NewLoader(store, testOptions, nil, nil), ConsumeOptions{Limit: 2, IdleTimeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if sum.Lines != 2 || sum.Inserted != 2 || len(reader.msgs) != 1 {
		t.Fatalf("summary = %+v, left %d", sum, len(reader.msgs))
	}
}

func TestConsumeKafkaRequiresTopic(t *testing.T) {
	_, err := ConsumeKafka(context.Background(), config.KafkaConfig{}, newTestStore(t), testOptions, ConsumeOptions{}, nil, nil)
	if err == nil {
		t.Fatal("expected error for unconfigured kafka")
	}
}
