package watchlist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"parceltriggers/internal/model"
	"parceltriggers/internal/taxonomy"
)

// Store is the storage a saved-search sync touches.
type Store interface {
	SearchRollups(ctx context.Context, q model.RollupQuery) ([]model.Rollup, error)
	ListTriggerAlertsSince(ctx context.Context, county string, since time.Time, parcelIDs []string) ([]model.Alert, error)
	UpsertInboxItem(ctx context.Context, item model.InboxItem) (bool, error)
	SetSavedSearchSynced(ctx context.Context, id string, at time.Time) error
}

func NewID() string {
	return ulid.Make().String()
}

// Validate checks a saved search before it is stored. knownChannel reports
// whether a delivery channel name exists; nil accepts any name.
func Validate(s model.SavedSearch, knownChannel func(string) bool) error {
	var errs []error
	if strings.TrimSpace(s.County) == "" {
		errs = append(errs, errors.New("county required"))
	}
	if s.MinScore < 0 || s.MinScore > 100 {
		errs = append(errs, fmt.Errorf("min_score %d outside 0..100", s.MinScore))
	}
	for _, d := range s.RequireAnyGroups {
		if !taxonomy.ValidDomain(d) {
			errs = append(errs, fmt.Errorf("unknown group %q", d))
		}
	}
	for _, k := range s.RequireTriggerKeys {
		if !taxonomy.Known(k) {
			errs = append(errs, fmt.Errorf("unknown trigger key %q", k))
		}
	}
	for _, tier := range s.RequireTiers {
		if !taxonomy.ValidTier(tier) {
			errs = append(errs, fmt.Errorf("unknown tier %q", tier))
		}
	}
	if knownChannel != nil {
		for _, c := range s.Channels {
			if !knownChannel(c) {
				errs = append(errs, fmt.Errorf("unknown channel %q", c))
			}
		}
	}
	return errors.Join(errs...)
}

type SyncResult struct {
	SavedSearchID string `json:"saved_search_id"`
	County        string `json:"county"`
	Parcels       int    `json:"parcels"`
	Alerts        int    `json:"alerts"`
	Surfaced      int    `json:"surfaced"`
}

// Sync surfaces open alerts of the parcels matching s into its inbox. Only
// alerts seen after the search's last sync are considered; the sync
// watermark then moves to now.
func Sync(ctx context.Context, store Store, s model.SavedSearch, now time.Time, maxParcels int) (SyncResult, error) {
	res := SyncResult{SavedSearchID: s.ID, County: s.County}
	rollups, err := store.SearchRollups(ctx, s.Query(maxParcels))
	if err != nil {
		return res, fmt.Errorf("search rollups: %w", err)
	}
	res.Parcels = len(rollups)
	if len(rollups) > 0 {
		scores := make(map[string]int, len(rollups))
		parcelIDs := make([]string, 0, len(rollups))
		for _, r := range rollups {
			scores[r.ParcelID] = r.SellerScore
			parcelIDs = append(parcelIDs, r.ParcelID)
		}
		var since time.Time
		if s.LastSyncedAt != nil {
			since = *s.LastSyncedAt
		}
		alerts, err := store.ListTriggerAlertsSince(ctx, s.County, since, parcelIDs)
		if err != nil {
			return res, fmt.Errorf("list alerts: %w", err)
		}
		res.Alerts = len(alerts)
		for _, a := range alerts {
			created, err := store.UpsertInboxItem(ctx, model.InboxItem{
				SavedSearchID: s.ID,
				AlertID:       a.ID,
				County:        a.County,
				ParcelID:      a.ParcelID,
				AlertKey:      a.AlertKey,
				Severity:      a.Severity,
				SellerScore:   scores[a.ParcelID],
				Status:        model.InboxNew,
				SurfacedAt:    now,
			})
			if err != nil {
				return res, fmt.Errorf("inbox item for alert %d: %w", a.ID, err)
			}
			if created {
				res.Surfaced++
			}
		}
	}
	if err := store.SetSavedSearchSynced(ctx, s.ID, now); err != nil {
		return res, fmt.Errorf("mark synced: %w", err)
	}
	return res, nil
}
