package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"parceltriggers/internal/config"
	"parceltriggers/internal/model"
	"parceltriggers/internal/scoring"
	"parceltriggers/internal/storage"
	"parceltriggers/internal/taxonomy"
)

var now = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

func event(parcel string, key taxonomy.Key, domain taxonomy.Domain, at time.Time) model.TriggerEvent {
	return model.TriggerEvent{
		County:     "miami-dade",
		ParcelID:   parcel,
		TriggerKey: key,
		TriggerAt:  at,
		Severity:   taxonomy.SeverityFor(key),
		Domain:     domain,
	}
}

func TestBuildSummarizesParcels(t *testing.T) {
	events := []model.TriggerEvent{
		event("B", taxonomy.PermitRoof, taxonomy.DomainPermits, now.Add(-5*time.Hour)),
		event("A", taxonomy.LisPendens, taxonomy.DomainCourts, now.Add(-3*time.Hour)),
		event("A", taxonomy.MechanicsLien, taxonomy.DomainOfficialRecords, now.Add(-2*time.Hour)),
		event("A", taxonomy.MechanicsLien, "", now.Add(-1*time.Hour)),
		event("", taxonomy.LisPendens, taxonomy.DomainCourts, now),
	}
	rollups := Build("miami-dade", events, now, 30)
	if len(rollups) != 2 || rollups[0].ParcelID != "A" || rollups[1].ParcelID != "B" {
		t.Fatalf("rollups = %+v", rollups)
	}
	a := rollups[0]
	if a.CriticalCount != 1 || a.StrongCount != 2 || a.SupportCount != 0 || a.TotalCount != 3 {
		t.Fatalf("counts = %d/%d/%d/%d", a.CriticalCount, a.StrongCount, a.SupportCount, a.TotalCount)
	}
	wantGroups := map[taxonomy.Domain]bool{}
	for _, d := range taxonomy.Domains() {
		wantGroups[d] = false
	}
	wantGroups[taxonomy.DomainCourts] = true
	wantGroups[taxonomy.DomainOfficialRecords] = true
	wantGroups[taxonomy.DomainLiens] = true
	if diff := cmp.Diff(wantGroups, a.Groups); diff != "" {
		t.Fatalf("groups (-want +got):\n%s", diff)
	}
	if !a.LastTriggerAt.Equal(now.Add(-time.Hour)) || !a.LastByGroup[taxonomy.DomainCourts].Equal(now.Add(-3*time.Hour)) {
		t.Fatalf("last trigger = %s, by group = %v", a.LastTriggerAt, a.LastByGroup)
	}
	if diff := cmp.Diff([]taxonomy.Key{taxonomy.LisPendens, taxonomy.MechanicsLien}, a.TriggerKeys); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}
	if a.SellerScore != 100 || a.Rule != scoring.RuleCritical {
		t.Fatalf("score = %d rule = %s", a.SellerScore, a.Rule)
	}
	if b := rollups[1]; b.SellerScore != 0 || b.Rule != scoring.RuleNone || !b.Groups[taxonomy.DomainPermits] {
		t.Fatalf("parcel B = %+v", b)
	}
}

func TestBuildAgreesWithDecisionTable(t *testing.T) {
	events := []model.TriggerEvent{
		event("P", taxonomy.DelinquentTax, taxonomy.DomainTaxCollector, now),
		event("P", taxonomy.MortgageRecorded, taxonomy.DomainOfficialRecords, now),
		event("P", taxonomy.PowerOfAttorney, taxonomy.DomainOfficialRecords, now),
		event("P", taxonomy.TaxPaymentPlan, taxonomy.DomainTaxCollector, now),
	}
	r := Build("miami-dade", events, now, 30)[0]
	d := scoring.Evaluate(scoring.Count(4, 2, 2, 2))
	if r.SellerScore != d.Score || r.Rule != d.Rule || r.SellerScore != 70 {
		t.Fatalf("rollup %d/%s, table %d/%s", r.SellerScore, r.Rule, d.Score, d.Rule)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, config.StorageConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	if _, err := store.InsertTriggerEvents(ctx, []model.TriggerEvent{
		event("A", taxonomy.LisPendens, taxonomy.DomainCourts, now.Add(-time.Hour)),
		event("A", taxonomy.PermitIssued, taxonomy.DomainPermits, now.Add(-2*time.Hour)),
		event("B", taxonomy.OwnerMailingChanged, taxonomy.DomainPropertyAppraiser, now.Add(-3*time.Hour)),
		event("C", taxonomy.TaxDeedApplication, taxonomy.DomainTaxCollector, now.Add(-4*time.Hour)),
	}, "run"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	first, err := Rebuild(ctx, store, "miami-dade", now, 30)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if first.Parcels != 3 || first.Events != 4 || first.Scored != 2 {
		t.Fatalf("summary = %+v", first)
	}
	before, err := store.SearchRollups(ctx, model.RollupQuery{County: "miami-dade", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if _, err := Rebuild(ctx, store, "miami-dade", now.Add(time.Hour), 30); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	after, err := store.SearchRollups(ctx, model.RollupQuery{County: "miami-dade", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if diff := cmp.Diff(before, after, cmpopts.IgnoreFields(model.Rollup{}, "RebuiltAt")); diff != "" {
		t.Fatalf("rebuild changed rollups (-first +second):\n%s", diff)
	}
	if !after[0].RebuiltAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("rebuilt_at = %s", after[0].RebuiltAt)
	}
	got, err := store.GetRollupForParcel(ctx, "miami-dade", "B")
	if err != nil || got == nil || !got.Groups[taxonomy.DomainPropertyAppraiser] {
		t.Fatalf("rollup B = %+v, %v", got, err)
	}
}

func TestBuildScoresOnlyTheWindow(t *testing.T) {
	events := []model.TriggerEvent{
		event("P", taxonomy.MechanicsLien, taxonomy.DomainLiens, now.AddDate(0, 0, -40)),
		event("P", taxonomy.DelinquentTax, taxonomy.DomainTaxCollector, now.AddDate(0, 0, -2)),
	}
	r := Build("miami-dade", events, now, 30)[0]
	if r.SellerScore != 0 || r.Rule != scoring.RuleNone || r.StrongCount != 1 || r.TotalCount != 1 {
		t.Fatalf("windowed rollup = %d/%s counts %d/%d", r.SellerScore, r.Rule, r.StrongCount, r.TotalCount)
	}
	if r.Details["history_total"] != 2 || !r.Groups[taxonomy.DomainLiens] || len(r.TriggerKeys) != 2 {
		t.Fatalf("history fields = %+v", r)
	}
	if wide := Build("miami-dade", events, now, 60)[0]; wide.SellerScore != 85 {
		t.Fatalf("60-day rollup score = %d, want 85", wide.SellerScore)
	}
}
