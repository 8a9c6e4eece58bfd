package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"parceltriggers/internal/model"
	"parceltriggers/internal/taxonomy"
)

func groupColumn(d taxonomy.Domain) string {
	return "has_" + string(d)
}

var rollupColumns = func() string {
	cols := []string{"county", "parcel_id", "critical_count", "strong_count", "support_count", "total_count"}
	for _, d := range taxonomy.Domains() {
		cols = append(cols, groupColumn(d))
	}
	cols = append(cols, "trigger_keys_json", "last_trigger_at", "last_by_group_json", "seller_score", "rule", "details_json", "rebuilt_at")
	return strings.Join(cols, ", ")
}()

// ReplaceParcelRollups swaps the county's rollup rows for rollups in one
// transaction.
func (b *baseStore) ReplaceParcelRollups(ctx context.Context, county string, rollups []model.Rollup) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM parcel_trigger_rollup_keys WHERE county = ?`,
		`DELETE FROM parcel_trigger_rollups WHERE county = ?`,
	} {
		if _, err := tx.ExecContext(ctx, b.q(stmt), county); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if len(rollups) == 0 {
		return tx.Commit()
	}
	ncols := len(strings.Split(rollupColumns, ","))
	insert, err := tx.PrepareContext(ctx, b.q(
		`INSERT INTO parcel_trigger_rollups (`+rollupColumns+`) VALUES (`+placeholders(ncols)+`)`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer insert.Close()
	insertKey, err := tx.PrepareContext(ctx, b.q(
		`INSERT INTO parcel_trigger_rollup_keys (county, parcel_id, trigger_key) VALUES (?, ?, ?)
		ON CONFLICT (county, parcel_id, trigger_key) DO NOTHING`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer insertKey.Close()
	for _, r := range rollups {
		if r.County != county {
			_ = tx.Rollback()
			return fmt.Errorf("rollup for parcel %s has county %q, want %q", r.ParcelID, r.County, county)
		}
		args := []any{r.County, r.ParcelID, r.CriticalCount, r.StrongCount, r.SupportCount, r.TotalCount}
		for _, d := range taxonomy.Domains() {
			args = append(args, boolInt(r.Groups[d]))
		}
		lastByGroup := make(map[string]string, len(r.LastByGroup))
		for d, ts := range r.LastByGroup {
			lastByGroup[string(d)] = formatTime(ts)
		}
		args = append(args,
			encodeJSON(r.TriggerKeys),
			formatTime(r.LastTriggerAt),
			encodeJSON(lastByGroup),
			r.SellerScore,
			r.Rule,
			encodeJSON(r.Details),
			formatTime(r.RebuiltAt),
		)
		if _, err := insert.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return err
		}
		for _, k := range r.TriggerKeys {
			if _, err := insertKey.ExecContext(ctx, r.County, r.ParcelID, string(k)); err != nil {
				_ = tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

func (b *baseStore) GetRollupForParcel(ctx context.Context, county, parcelID string) (*model.Rollup, error) {
	row := b.db.QueryRowContext(ctx, b.q(
		`SELECT `+rollupColumns+` FROM parcel_trigger_rollups WHERE county = ? AND parcel_id = ?`),
		county, parcelID)
	r, err := scanRollup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SearchRollups filters rollups. RequireAnyGroups matches parcels with a
// signal in at least one listed group; every listed trigger key and every
// listed tier must be present. Results are ordered by score, then recency.
func (b *baseStore) SearchRollups(ctx context.Context, q model.RollupQuery) ([]model.Rollup, error) {
	var (
		where = []string{"r.county = ?"}
		args  = []any{q.County}
	)
	if len(q.ParcelIDs) > 0 {
		where = append(where, "r.parcel_id IN ("+placeholders(len(q.ParcelIDs))+")")
		for _, id := range q.ParcelIDs {
			args = append(args, id)
		}
	}
	if q.MinScore > 0 {
		where = append(where, "r.seller_score >= ?")
		args = append(args, q.MinScore)
	}
	if len(q.RequireAnyGroups) > 0 {
		var anyOf []string
		for _, d := range q.RequireAnyGroups {
			if !taxonomy.ValidDomain(d) {
				return nil, fmt.Errorf("unknown group %q", d)
			}
			anyOf = append(anyOf, "r."+groupColumn(d)+" = 1")
		}
		where = append(where, "("+strings.Join(anyOf, " OR ")+")")
	}
	for _, k := range q.RequireTriggerKeys {
		where = append(where, `EXISTS (SELECT 1 FROM parcel_trigger_rollup_keys k
			WHERE k.county = r.county AND k.parcel_id = r.parcel_id AND k.trigger_key = ?)`)
		args = append(args, string(k))
	}
	for _, tier := range q.RequireTiers {
		switch tier {
		case taxonomy.TierCritical:
			where = append(where, "r.critical_count > 0")
		case taxonomy.TierStrong:
			where = append(where, "r.strong_count > 0")
		case taxonomy.TierSupport:
			where = append(where, "r.support_count > 0")
		default:
			return nil, fmt.Errorf("unknown tier %q", tier)
		}
	}
	query := `SELECT ` + prefixColumns("r.", rollupColumns) + ` FROM parcel_trigger_rollups r
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY r.seller_score DESC, r.last_trigger_at DESC, r.parcel_id ASC
		LIMIT ? OFFSET ?`
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, clampLimit(q.Limit, 100), offset)
	rows, err := b.db.QueryContext(ctx, b.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Rollup
	for rows.Next() {
		r, err := scanRollup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func prefixColumns(prefix, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}

func scanRollup(row rowScanner) (model.Rollup, error) {
	var (
		r           model.Rollup
		keys        string
		lastTrigger string
		lastByGroup string
		details     string
		rebuiltAt   string
	)
	domains := taxonomy.Domains()
	flags := make([]int, len(domains))
	dest := []any{&r.County, &r.ParcelID, &r.CriticalCount, &r.StrongCount, &r.SupportCount, &r.TotalCount}
	for i := range flags {
		dest = append(dest, &flags[i])
	}
	dest = append(dest, &keys, &lastTrigger, &lastByGroup, &r.SellerScore, &r.Rule, &details, &rebuiltAt)
	if err := row.Scan(dest...); err != nil {
		return model.Rollup{}, err
	}
	r.Groups = make(map[taxonomy.Domain]bool, len(domains))
	for i, d := range domains {
		r.Groups[d] = flags[i] != 0
	}
	decodeJSON(keys, &r.TriggerKeys)
	r.LastTriggerAt = parseTime(lastTrigger)
	var byGroup map[string]string
	decodeJSON(lastByGroup, &byGroup)
	r.LastByGroup = make(map[taxonomy.Domain]time.Time, len(byGroup))
	for d, ts := range byGroup {
		r.LastByGroup[taxonomy.Domain(d)] = parseTime(ts)
	}
	decodeJSON(details, &r.Details)
	r.RebuiltAt = parseTime(rebuiltAt)
	return r, nil
}
