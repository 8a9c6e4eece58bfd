package rollup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"parceltriggers/internal/model"
	"parceltriggers/internal/scoring"
	"parceltriggers/internal/storage"
	"parceltriggers/internal/taxonomy"
)

// Store is what a rebuild reads and replaces.
type Store interface {
	ListTriggerEventsForCounty(ctx context.Context, county string, since time.Time, limit int) ([]model.TriggerEvent, error)
	storage.RollupStore
}

type accumulator struct {
	rollup  model.Rollup
	counts  scoring.TierCounts
	history int
	keys    map[taxonomy.Key]int
}

// Build summarizes the trigger history of each parcel. Tier counts and the
// seller score cover the windowDays before rebuiltAt, the same window alert
// evaluation uses; keys, group flags and last-seen times cover the whole
// history. Same events and window give the same rollups apart from
// rebuiltAt. Rollups come back sorted by parcel id.
func Build(county string, events []model.TriggerEvent, rebuiltAt time.Time, windowDays int) []model.Rollup {
	if windowDays <= 0 {
		windowDays = scoring.DefaultWindowDays
	}
	cutoff := scoring.WindowStart(rebuiltAt, windowDays)
	byParcel := make(map[string]*accumulator)
	for _, ev := range events {
		parcel := strings.TrimSpace(ev.ParcelID)
		if parcel == "" {
			continue
		}
		acc, ok := byParcel[parcel]
		if !ok {
			acc = &accumulator{
				rollup: model.Rollup{
					County:      county,
					ParcelID:    parcel,
					Groups:      make(map[taxonomy.Domain]bool),
					LastByGroup: make(map[taxonomy.Domain]time.Time),
				},
				keys: make(map[taxonomy.Key]int),
			}
			for _, d := range taxonomy.Domains() {
				acc.rollup.Groups[d] = false
			}
			byParcel[parcel] = acc
		}
		acc.add(ev, !ev.TriggerAt.Before(cutoff))
	}

	out := make([]model.Rollup, 0, len(byParcel))
	for _, acc := range byParcel {
		out = append(out, acc.finish(rebuiltAt, windowDays))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParcelID < out[j].ParcelID })
	return out
}

func (a *accumulator) add(ev model.TriggerEvent, inWindow bool) {
	if inWindow {
		a.counts.Add(ev.Severity)
	}
	a.history++
	a.keys[ev.TriggerKey]++
	at := ev.TriggerAt.UTC()
	if at.After(a.rollup.LastTriggerAt) {
		a.rollup.LastTriggerAt = at
	}
	domain := ev.Domain
	if domain == "" {
		domain, _ = taxonomy.DomainOf(ev.TriggerKey)
	}
	if !taxonomy.ValidDomain(domain) {
		return
	}
	a.rollup.Groups[domain] = true
	if at.After(a.rollup.LastByGroup[domain]) {
		a.rollup.LastByGroup[domain] = at
	}
}

func (a *accumulator) finish(rebuiltAt time.Time, windowDays int) model.Rollup {
	r := a.rollup
	r.CriticalCount = a.counts.Critical
	r.StrongCount = a.counts.Strong
	r.SupportCount = a.counts.Support
	r.TotalCount = a.counts.Total()

	keys := make([]taxonomy.Key, 0, len(a.keys))
	keyCounts := make(map[string]int, len(a.keys))
	for k, n := range a.keys {
		keys = append(keys, k)
		keyCounts[string(k)] = n
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	r.TriggerKeys = keys

	d := scoring.Evaluate(a.counts)
	r.SellerScore = d.Score
	r.Rule = d.Rule
	r.Details = map[string]any{
		"key_counts":        keyCounts,
		"matched":           d.Matched,
		"decision_severity": d.Severity,
		"window_days":       windowDays,
		"history_total":     a.history,
	}
	r.RebuiltAt = rebuiltAt.UTC()
	return r
}

// Rebuild recomputes every rollup of county from its persisted trigger
// events and swaps them in atomically. windowDays <= 0 means the default
// evaluation window.
func Rebuild(ctx context.Context, store Store, county string, rebuiltAt time.Time, windowDays int) (model.RollupSummary, error) {
	summary := model.RollupSummary{County: county, RebuiltAt: rebuiltAt.UTC()}
	events, err := store.ListTriggerEventsForCounty(ctx, county, time.Time{}, 0)
	if err != nil {
		return summary, fmt.Errorf("list trigger events: %w", err)
	}
	rollups := Build(county, events, rebuiltAt, windowDays)
	if err := store.ReplaceParcelRollups(ctx, county, rollups); err != nil {
		return summary, fmt.Errorf("replace rollups: %w", err)
	}
	summary.Events = len(events)
	summary.Parcels = len(rollups)
	for _, r := range rollups {
		if r.SellerScore > 0 {
			summary.Scored++
		}
	}
	return summary, nil
}
