package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"parceltriggers/internal/config"
	"parceltriggers/internal/connector"
	"parceltriggers/internal/model"
	"parceltriggers/internal/rollup"
	"parceltriggers/internal/storage"
	"parceltriggers/internal/taxonomy"
)

const county = "broward"

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.Open(context.Background(), config.StorageConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newEngineForTest(store Store) *Engine {
	return NewEngine(config.DefaultConfig(), nil, nil, store)
}

func trigger(parcel string, key taxonomy.Key, at time.Time) model.TriggerEvent {
	domain, _ := taxonomy.DomainOf(key)
	return model.TriggerEvent{
		County:             county,
		ParcelID:           parcel,
		TriggerKey:         key,
		TriggerAt:          at,
		Severity:           taxonomy.SeverityFor(key),
		Domain:             domain,
		SourceConnectorKey: "test",
		SourceEventType:    string(key),
	}
}

func insert(t *testing.T, store storage.Store, events ...model.TriggerEvent) []int64 {
	t.Helper()
	ids, err := store.InsertTriggerEvents(context.Background(), events, "test-run")
	if err != nil {
		t.Fatalf("insert trigger events: %v", err)
	}
	return ids
}

func alertsFor(t *testing.T, store storage.Store, parcel string) map[string]model.Alert {
	t.Helper()
	list, err := store.ListTriggerAlertsForParcel(context.Background(), county, parcel, "", 50)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	out := make(map[string]model.Alert, len(list))
	for _, a := range list {
		if _, dup := out[a.AlertKey]; dup {
			t.Fatalf("duplicate %s alert for %s", a.AlertKey, parcel)
		}
		out[a.AlertKey] = a
	}
	return out
}

func TestSellerIntentDecisionTable(t *testing.T) {
	store := newTestStore(t)
	day := 24 * time.Hour
	insert(t, store,
		trigger("P-CRIT", taxonomy.LisPendens, now.Add(-2*day)),

		trigger("P-STRONG", taxonomy.MechanicsLien, now.Add(-3*day)),
		trigger("P-STRONG", taxonomy.DelinquentTax, now.Add(-4*day)),

		trigger("P-MIXED", taxonomy.DelinquentTax, now.Add(-1*day)),
		trigger("P-MIXED", taxonomy.MortgageRecorded, now.Add(-2*day)),
		trigger("P-MIXED", taxonomy.PowerOfAttorney, now.Add(-3*day)),
		trigger("P-MIXED", taxonomy.TaxPaymentPlan, now.Add(-4*day)),

		trigger("P-NONE", taxonomy.MortgageRecorded, now.Add(-1*day)),
		trigger("P-NONE", taxonomy.MortgageRecorded, now.Add(-2*day)),
		trigger("P-NONE", taxonomy.PowerOfAttorney, now.Add(-3*day)),
		trigger("P-NONE", taxonomy.TaxPaymentPlan, now.Add(-4*day)),
	)
	eng := newEngineForTest(store)
	if _, err := eng.EvaluateAndUpsertAlerts(context.Background(), county, now, 30); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	cases := []struct {
		parcel   string
		severity int
		score    float64
		rule     string
	}{
		{"P-CRIT", 5, 100, "critical>=1"},
		{"P-STRONG", 4, 85, "strong>=2"},
		{"P-MIXED", 3, 70, "mixed>=4"},
	}
	for _, tc := range cases {
		a, ok := alertsFor(t, store, tc.parcel)[model.AlertSellerIntent]
		if !ok {
			t.Fatalf("%s: no seller_intent alert", tc.parcel)
		}
		if a.Severity != tc.severity || a.Details["seller_score"] != tc.score || a.Details["rule"] != tc.rule {
			t.Fatalf("%s: severity=%d details=%v", tc.parcel, a.Severity, a.Details)
		}
	}
	if _, ok := alertsFor(t, store, "P-NONE")[model.AlertSellerIntent]; ok {
		t.Fatalf("four support events must not raise seller_intent")
	}
}

func TestPermitAndMailingChangeCompose(t *testing.T) {
	store := newTestStore(t)
	ids := insert(t, store,
		trigger("P-1", taxonomy.PermitIssued, now.Add(-48*time.Hour)),
		trigger("P-1", taxonomy.OwnerMailingChanged, now.Add(-24*time.Hour)),
	)
	eng := newEngineForTest(store)
	written, err := eng.EvaluateAndUpsertAlerts(context.Background(), county, now, 30)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if written != 3 {
		t.Fatalf("alerts written = %d, want 3", written)
	}
	got := alertsFor(t, store, "P-1")
	if len(got) != 3 {
		t.Fatalf("alerts = %v", got)
	}
	if diff := cmp.Diff([]int64{ids[0]}, got[model.AlertPermitActivity].TriggerEventIDs); diff != "" {
		t.Fatalf("permit_activity ids (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{ids[1]}, got[model.AlertOwnerMoved].TriggerEventIDs); diff != "" {
		t.Fatalf("owner_moved ids (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(ids, got[model.AlertRedevelopmentSignal].TriggerEventIDs); diff != "" {
		t.Fatalf("redevelopment_signal ids (-want +got):\n%s", diff)
	}
	if got[model.AlertRedevelopmentSignal].Severity != 3 {
		t.Fatalf("redevelopment severity = %d", got[model.AlertRedevelopmentSignal].Severity)
	}
}

func TestAlertUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	first := insert(t, store, trigger("P-1", taxonomy.ForeclosureFiling, now.Add(-72*time.Hour)))
	eng := newEngineForTest(store)
	for i := 0; i < 2; i++ {
		if _, err := eng.EvaluateAndUpsertAlerts(ctx, county, now.Add(time.Duration(i)*time.Hour), 30); err != nil {
			t.Fatalf("evaluate pass %d: %v", i, err)
		}
	}
	alerts := alertsFor(t, store, "P-1")
	a := alerts[model.AlertSellerIntent]
	if len(alerts) != 1 || !cmp.Equal(first, a.TriggerEventIDs) {
		t.Fatalf("after repeat: %+v", alerts)
	}
	if !a.FirstSeenAt.Equal(now) || !a.LastSeenAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("seen window = %s .. %s", a.FirstSeenAt, a.LastSeenAt)
	}

	second := insert(t, store, trigger("P-1", taxonomy.DeathRecord, now.Add(-time.Hour)))
	if _, err := eng.EvaluateAndUpsertAlerts(ctx, county, now.Add(2*time.Hour), 30); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	a = alertsFor(t, store, "P-1")[model.AlertSellerIntent]
	if diff := cmp.Diff(append(first, second...), a.TriggerEventIDs); diff != "" {
		t.Fatalf("ids not widened (-want +got):\n%s", diff)
	}
}

func TestWindowExcludesOldEvents(t *testing.T) {
	store := newTestStore(t)
	insert(t, store, trigger("P-OLD", taxonomy.LisPendens, now.Add(-40*24*time.Hour)))
	eng := newEngineForTest(store)
	written, err := eng.EvaluateAndUpsertAlerts(context.Background(), county, now, 30)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if written != 0 {
		t.Fatalf("alerts written = %d for an event outside the window", written)
	}
}

func TestRollupAgreesWithSellerIntentAcrossWindowEdge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	eng := newEngineForTest(store)
	day := 24 * time.Hour

	// P-EDGE: one strong event ages out before the second arrives
	insert(t, store, trigger("P-EDGE", taxonomy.MechanicsLien, now.Add(-40*day)))
	if _, err := eng.EvaluateAndUpsertAlerts(ctx, county, now.Add(-39*day), 30); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	// P-BOTH: two strong events inside the window
	insert(t, store,
		trigger("P-EDGE", taxonomy.DelinquentTax, now.Add(-2*day)),
		trigger("P-BOTH", taxonomy.MechanicsLien, now.Add(-20*day)),
		trigger("P-BOTH", taxonomy.DelinquentTax, now.Add(-2*day)),
	)
	if _, err := eng.EvaluateAndUpsertAlerts(ctx, county, now, 30); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if _, err := rollup.Rebuild(ctx, store, county, now, 30); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	for parcel, wantScore := range map[string]int{"P-EDGE": 0, "P-BOTH": 85} {
		r, err := store.GetRollupForParcel(ctx, county, parcel)
		if err != nil || r == nil {
			t.Fatalf("rollup %s: %+v, %v", parcel, r, err)
		}
		_, alerted := alertsFor(t, store, parcel)[model.AlertSellerIntent]
		if r.SellerScore != wantScore || alerted != (r.SellerScore > 0) {
			t.Fatalf("%s: rollup score %d (%s), seller_intent alert %v", parcel, r.SellerScore, r.Rule, alerted)
		}
	}
	edge, _ := store.GetRollupForParcel(ctx, county, "P-EDGE")
	if len(edge.TriggerKeys) != 2 || !edge.Groups[taxonomy.DomainLiens] {
		t.Fatalf("history fields lost: %+v", edge)
	}
}

func TestMalformedParcelIsSkipped(t *testing.T) {
	store := newTestStore(t)
	insert(t, store,
		trigger("", taxonomy.LisPendens, now.Add(-time.Hour)),
		trigger("  ", taxonomy.LisPendens, now.Add(-time.Hour)),
		trigger("P-OK", taxonomy.LisPendens, now.Add(-time.Hour)),
	)
	eng := newEngineForTest(store)
	written, err := eng.EvaluateAndUpsertAlerts(context.Background(), county, now, 30)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if written != 1 {
		t.Fatalf("alerts written = %d, want only the well-formed parcel", written)
	}
}

func TestRunConnectorOnceWithFake(t *testing.T) {
	store := newTestStore(t)
	reg, err := connector.DefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	fake, err := reg.Build(connector.KeyFake, connector.Deps{})
	if err != nil {
		t.Fatalf("build fake: %v", err)
	}
	eng := newEngineForTest(store)
	ctx := context.Background()

	first, err := eng.RunConnectorOnce(ctx, fake, county, now, 100)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	want := model.RunSummary{
		OK:                 true,
		RunID:              first.RunID,
		County:             county,
		Connector:          connector.KeyFake,
		RawEventsCount:     9,
		NewRawEventsCount:  9,
		TriggerEventsCount: 9,
		AlertsWritten:      7,
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Fatalf("first summary (-want +got):\n%s", diff)
	}

	// a second engine has an empty fingerprint cache, so storage dedup is what
	// keeps the replay from producing new rows
	for _, e := range []*Engine{eng, newEngineForTest(store)} {
		again, err := e.RunConnectorOnce(ctx, fake, county, now.Add(time.Hour), 100)
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if again.RawEventsCount != 9 || again.NewRawEventsCount != 0 || again.TriggerEventsCount != 0 || again.AlertsWritten != 7 {
			t.Fatalf("replay summary = %+v", again)
		}
		if again.RunID == first.RunID {
			t.Fatalf("run id reused")
		}
	}

	events, err := store.ListTriggerEventsForCounty(ctx, county, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 9 {
		t.Fatalf("trigger events stored = %d", len(events))
	}
	for _, ev := range events {
		if ev.SourceEventID == nil || *ev.SourceEventID == 0 {
			t.Fatalf("trigger event %d has no source event", ev.ID)
		}
	}
	if _, ok := alertsFor(t, store, "FAKE-0002")[model.AlertRedevelopmentSignal]; !ok {
		t.Fatalf("FAKE-0002 should carry redevelopment_signal")
	}
}

// flakyStore fails the next IngestRawEvents call without writing anything.
type flakyStore struct {
	storage.Store
	failNext bool
}

func (s *flakyStore) IngestRawEvents(ctx context.Context, events []model.RawEvent, runID string, normalize func(model.RawEvent) (model.TriggerEvent, bool)) (int, []model.TriggerEvent, error) {
	if s.failNext {
		s.failNext = false
		return 0, nil, errors.New("disk I/O error")
	}
	return s.Store.IngestRawEvents(ctx, events, runID, normalize)
}

func TestRunConnectorOnceRetriesAfterStoreFailure(t *testing.T) {
	store := &flakyStore{Store: newTestStore(t), failNext: true}
	reg, err := connector.DefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	fake, err := reg.Build(connector.KeyFake, connector.Deps{})
	if err != nil {
		t.Fatalf("build fake: %v", err)
	}
	eng := newEngineForTest(store)
	ctx := context.Background()

	failed, err := eng.RunConnectorOnce(ctx, fake, county, now, 100)
	if err == nil || failed.OK {
		t.Fatalf("expected failed run, got %+v", failed)
	}

	// same engine, same poll: nothing may be remembered from the failed write
	retry, err := eng.RunConnectorOnce(ctx, fake, county, now, 100)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.NewRawEventsCount != 9 || retry.TriggerEventsCount != 9 {
		t.Fatalf("retry summary = %+v", retry)
	}
	events, err := store.ListTriggerEventsForCounty(ctx, county, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 9 {
		t.Fatalf("trigger events stored after retry = %d, want 9", len(events))
	}
}

type brokenConnector struct{}

func (brokenConnector) Key() string             { return "broken" }
func (brokenConnector) Domain() taxonomy.Domain { return taxonomy.DomainCourts }
func (brokenConnector) Poll(context.Context, string, time.Time, int) ([]model.RawEvent, error) {
	return nil, errors.New("feed unavailable")
}
func (brokenConnector) Normalize(model.RawEvent, time.Time) (model.TriggerEvent, bool) {
	return model.TriggerEvent{}, false
}

func TestRunConnectorOnceReportsPollFailure(t *testing.T) {
	store := newTestStore(t)
	eng := newEngineForTest(store)
	summary, err := eng.RunConnectorOnce(context.Background(), brokenConnector{}, county, now, 10)
	if err == nil {
		t.Fatalf("expected error")
	}
	if summary.OK || summary.Error == "" || summary.Connector != "broken" || summary.County != county {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestDedupeCacheExpires(t *testing.T) {
	c := NewDedupeCache()
	c.Add(now, time.Hour, "a")
	if !c.Has("a", now.Add(30*time.Minute), time.Hour) {
		t.Fatalf("expected hit inside ttl")
	}
	if c.Has("a", now.Add(2*time.Hour), time.Hour) {
		t.Fatalf("expected miss after ttl")
	}
	if c.Has("b", now, time.Hour) {
		t.Fatalf("unexpected hit")
	}
}
