package engine

import (
	"sort"
	"strings"
	"time"

	"parceltriggers/internal/model"
	"parceltriggers/internal/scoring"
	"parceltriggers/internal/taxonomy"
)

// ParcelWindow holds one parcel's trigger events inside the rolling window.
type ParcelWindow struct {
	ParcelID string
	Counts   scoring.TierCounts
	Events   []model.TriggerEvent
	keys     map[taxonomy.Key]struct{}
}

func NewParcelWindow(parcelID string) *ParcelWindow {
	return &ParcelWindow{
		ParcelID: parcelID,
		Events:   make([]model.TriggerEvent, 0, 8),
		keys:     make(map[taxonomy.Key]struct{}),
	}
}

func (w *ParcelWindow) Add(ev model.TriggerEvent) {
	w.Events = append(w.Events, ev)
	w.Counts.Add(ev.Severity)
	w.keys[ev.TriggerKey] = struct{}{}
}

// Keys returns the distinct trigger keys in the window, sorted.
func (w *ParcelWindow) Keys() []taxonomy.Key {
	out := make([]taxonomy.Key, 0, len(w.keys))
	for k := range w.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IDs returns the ids of events accepted by keep, ascending. A nil keep
// selects every event.
func (w *ParcelWindow) IDs(keep func(model.TriggerEvent) bool) []int64 {
	var ids []int64
	for _, ev := range w.Events {
		if ev.ID == 0 || (keep != nil && !keep(ev)) {
			continue
		}
		ids = append(ids, ev.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MaxSeverity is the highest severity among events accepted by keep, or 0.
func (w *ParcelWindow) MaxSeverity(keep func(model.TriggerEvent) bool) int {
	top := 0
	for _, ev := range w.Events {
		if keep(ev) && ev.Severity > top {
			top = ev.Severity
		}
	}
	return top
}

// GroupByParcel buckets events by parcel, dropping events without a parcel
// id, events older than cutoff and repeated event ids. Windows come back
// sorted by parcel id.
func GroupByParcel(events []model.TriggerEvent, cutoff time.Time) []*ParcelWindow {
	byParcel := make(map[string]*ParcelWindow)
	seen := make(map[int64]struct{}, len(events))
	for _, ev := range events {
		parcel := strings.TrimSpace(ev.ParcelID)
		if parcel == "" {
			continue
		}
		if !cutoff.IsZero() && ev.TriggerAt.Before(cutoff) {
			continue
		}
		if ev.ID != 0 {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
		}
		w, ok := byParcel[parcel]
		if !ok {
			w = NewParcelWindow(parcel)
			byParcel[parcel] = w
		}
		w.Add(ev)
	}
	out := make([]*ParcelWindow, 0, len(byParcel))
	for _, w := range byParcel {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParcelID < out[j].ParcelID })
	return out
}

func eventDomain(ev model.TriggerEvent) taxonomy.Domain {
	if ev.Domain != "" {
		return ev.Domain
	}
	d, _ := taxonomy.DomainOf(ev.TriggerKey)
	return d
}

func isPermit(ev model.TriggerEvent) bool {
	return eventDomain(ev) == taxonomy.DomainPermits
}

func isMailingChange(ev model.TriggerEvent) bool {
	return ev.TriggerKey == taxonomy.OwnerMailingChanged
}

func either(ev model.TriggerEvent) bool {
	return isPermit(ev) || isMailingChange(ev)
}

// Alerts composes the alerts the window supports. Every alert is stamped
// with now as both first and last seen; storage keeps the earliest first_seen_at.
func (w *ParcelWindow) Alerts(county string, now time.Time, windowDays int) []model.Alert {
	var out []model.Alert
	newAlert := func(key string, severity int, ids []int64, details map[string]any) model.Alert {
		details["window_days"] = windowDays
		return model.Alert{
			County:          county,
			ParcelID:        w.ParcelID,
			AlertKey:        key,
			Severity:        severity,
			FirstSeenAt:     now,
			LastSeenAt:      now,
			Status:          model.AlertOpen,
			TriggerEventIDs: ids,
			Details:         details,
		}
	}

	if d := scoring.Evaluate(w.Counts); d.Matched {
		out = append(out, newAlert(model.AlertSellerIntent, d.Severity, w.IDs(nil), map[string]any{
			"rule":           d.Rule,
			"seller_score":   d.Score,
			"critical_count": w.Counts.Critical,
			"strong_count":   w.Counts.Strong,
			"support_count":  w.Counts.Support,
			"total_count":    w.Counts.Total(),
			"trigger_keys":   keyStrings(w.Keys()),
		}))
	}

	permitSev := w.MaxSeverity(isPermit)
	movedSev := w.MaxSeverity(isMailingChange)
	if permitSev > 0 {
		out = append(out, newAlert(model.AlertPermitActivity, permitSev, w.IDs(isPermit), map[string]any{
			"trigger_keys": keyStrings(w.keysMatching(isPermit)),
		}))
	}
	if movedSev > 0 {
		out = append(out, newAlert(model.AlertOwnerMoved, movedSev, w.IDs(isMailingChange), map[string]any{
			"trigger_keys": []string{string(taxonomy.OwnerMailingChanged)},
		}))
	}
	if permitSev > 0 && movedSev > 0 {
		out = append(out, newAlert(model.AlertRedevelopmentSignal, max(permitSev, movedSev), w.IDs(either), map[string]any{
			"trigger_keys": keyStrings(w.keysMatching(either)),
		}))
	}
	return out
}

func (w *ParcelWindow) keysMatching(keep func(model.TriggerEvent) bool) []taxonomy.Key {
	set := make(map[taxonomy.Key]struct{})
	for _, ev := range w.Events {
		if keep(ev) {
			set[ev.TriggerKey] = struct{}{}
		}
	}
	out := make([]taxonomy.Key, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func keyStrings(keys []taxonomy.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}
