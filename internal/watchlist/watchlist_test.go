package watchlist

import (
	"context"
	"strings"
	"testing"
	"time"

	"parceltriggers/internal/config"
	"parceltriggers/internal/model"
	"parceltriggers/internal/rollup"
	"parceltriggers/internal/storage"
	"parceltriggers/internal/taxonomy"
)

var now = time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, config.StorageConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	events := []model.TriggerEvent{
		{County: "lee", ParcelID: "HOT", TriggerKey: taxonomy.LisPendens, Severity: 5, Domain: taxonomy.DomainCourts, TriggerAt: now.Add(-time.Hour)},
		{County: "lee", ParcelID: "COLD", TriggerKey: taxonomy.PermitIssued, Severity: 2, Domain: taxonomy.DomainPermits, TriggerAt: now.Add(-time.Hour)},
	}
	ids, err := store.InsertTriggerEvents(ctx, events, "seed")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	for i, ev := range events {
		key := model.AlertSellerIntent
		if ev.ParcelID == "COLD" {
			key = model.AlertPermitActivity
		}
		if _, _, err := store.UpsertTriggerAlert(ctx, model.Alert{
			County: "lee", ParcelID: ev.ParcelID, AlertKey: key, Severity: ev.Severity,
			FirstSeenAt: now, LastSeenAt: now, TriggerEventIDs: []int64{ids[i]},
		}); err != nil {
			t.Fatalf("upsert alert: %v", err)
		}
	}
	if _, err := rollup.Rebuild(ctx, store, "lee", now, 30); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	return store
}

func TestSyncSurfacesMatchingParcels(t *testing.T) {
	store := seed(t)
	ctx := context.Background()
	search := model.SavedSearch{ID: NewID(), Name: "distress", County: "lee", MinScore: 70, Channels: []string{"log"}, Active: true}
	if err := store.UpsertSavedSearch(ctx, search); err != nil {
		t.Fatalf("save search: %v", err)
	}

	res, err := Sync(ctx, store, search, now.Add(time.Minute), 100)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Parcels != 1 || res.Alerts != 1 || res.Surfaced != 1 {
		t.Fatalf("first sync = %+v", res)
	}
	items, err := store.ListUndelivered(ctx, search.ID, "log", 10)
	if err != nil {
		t.Fatalf("undelivered: %v", err)
	}
	if len(items) != 1 || items[0].ParcelID != "HOT" || items[0].SellerScore != 100 || items[0].Status != model.InboxNew {
		t.Fatalf("inbox = %+v", items)
	}

	active, err := store.ListActiveSavedSearches(ctx, 10)
	if err != nil || len(active) != 1 || active[0].LastSyncedAt == nil {
		t.Fatalf("active searches = %+v, %v", active, err)
	}
	again, err := Sync(ctx, store, active[0], now.Add(2*time.Minute), 100)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if again.Alerts != 0 || again.Surfaced != 0 {
		t.Fatalf("second sync re-surfaced stale alerts: %+v", again)
	}
}

func TestSyncWithoutMatchesStillAdvances(t *testing.T) {
	store := seed(t)
	ctx := context.Background()
	search := model.SavedSearch{ID: "s-1", County: "lee", RequireTriggerKeys: []taxonomy.Key{taxonomy.DeathRecord}, Active: true}
	if err := store.UpsertSavedSearch(ctx, search); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err := Sync(ctx, store, search, now, 100)
	if err != nil || res.Parcels != 0 {
		t.Fatalf("sync = %+v, %v", res, err)
	}
	active, _ := store.ListActiveSavedSearches(ctx, 10)
	if len(active) != 1 || active[0].LastSyncedAt == nil || !active[0].LastSyncedAt.Equal(now) {
		t.Fatalf("watermark not advanced: %+v", active)
	}
}

func TestValidate(t *testing.T) {
	bad := model.SavedSearch{
		MinScore:         120,
		RequireAnyGroups: []taxonomy.Domain{"weather"},
		RequireTiers:     []taxonomy.Tier{"mild"},
		Channels:         []string{"pager"},
	}
	err := Validate(bad, func(c string) bool { return c == "log" })
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"county required", "min_score", "weather", "mild", "pager"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
	good := model.SavedSearch{County: "lee", RequireTiers: []taxonomy.Tier{taxonomy.TierCritical}, Channels: []string{"log"}}
	if err := Validate(good, nil); err != nil {
		t.Fatalf("valid search rejected: %v", err)
	}
}
