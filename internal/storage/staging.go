package storage

import (
	"context"
	"time"

	"parceltriggers/internal/model"
	"parceltriggers/internal/taxonomy"
)

// InsertSourceRecords stages scraper output and returns how many rows were
// new. Records already staged are ignored.
func (b *baseStore) InsertSourceRecords(ctx context.Context, records []model.SourceRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, b.q(
		`INSERT INTO source_records (domain, county, parcel_id, observed_at, event_type, payload_json, fingerprint, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fingerprint) DO NOTHING`))
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	created := formatTime(nowUTC())
	inserted := 0
	for _, r := range records {
		res, err := stmt.ExecContext(ctx,
			string(r.Domain),
			r.County,
			r.ParcelID,
			formatTime(r.ObservedAt),
			r.EventType,
			encodeJSON(r.Payload),
			r.Fingerprint(),
			created,
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListSourceRecords returns staged records observed at or after since,
// oldest first, so a limited page never skips older rows.
func (b *baseStore) ListSourceRecords(ctx context.Context, domain taxonomy.Domain, county string, since time.Time, limit int) ([]model.SourceRecord, error) {
	rows, err := b.db.QueryContext(ctx, b.q(
		`SELECT id, domain, county, parcel_id, observed_at, event_type, payload_json
		FROM source_records
		WHERE domain = ? AND county = ? AND observed_at >= ?
		ORDER BY observed_at ASC, id ASC
		LIMIT ?`),
		string(domain), county, formatTime(since), clampLimit(limit, 500))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SourceRecord
	for rows.Next() {
		var (
			r          model.SourceRecord
			d          string
			observedAt string
			payload    string
		)
		if err := rows.Scan(&r.ID, &d, &r.County, &r.ParcelID, &observedAt, &r.EventType, &payload); err != nil {
			return nil, err
		}
		r.Domain = taxonomy.Domain(d)
		r.ObservedAt = parseTime(observedAt)
		decodeJSON(payload, &r.Payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertPermits upserts permits by (county, permit_number) and returns the
// number of rows written.
func (b *baseStore) InsertPermits(ctx context.Context, permits []model.Permit) (int, error) {
	if len(permits) == 0 {
		return 0, nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, b.q(
		`INSERT INTO permits (county, parcel_id, permit_number, permit_type, description, status, issued_at, valuation, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (county, permit_number) DO UPDATE SET
			parcel_id = excluded.parcel_id,
			permit_type = excluded.permit_type,
			description = excluded.description,
			status = excluded.status,
			issued_at = excluded.issued_at,
			valuation = excluded.valuation,
			updated_at = excluded.updated_at`))
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	updated := formatTime(nowUTC())
	written := 0
	for _, p := range permits {
		if _, err := stmt.ExecContext(ctx,
			p.County,
			p.ParcelID,
			p.PermitNumber,
			p.PermitType,
			p.Description,
			p.Status,
			formatTime(p.IssuedAt),
			p.Valuation,
			updated,
		); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// ListPermits returns permits issued at or after since, oldest first.
func (b *baseStore) ListPermits(ctx context.Context, county string, since time.Time, limit int) ([]model.Permit, error) {
	rows, err := b.db.QueryContext(ctx, b.q(
		`SELECT id, county, parcel_id, permit_number, permit_type, description, status, issued_at, valuation
		FROM permits
		WHERE county = ? AND issued_at >= ?
		ORDER BY issued_at ASC, id ASC
		LIMIT ?`),
		county, formatTime(since), clampLimit(limit, 500))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Permit
	for rows.Next() {
		var (
			p        model.Permit
			issuedAt string
		)
		if err := rows.Scan(&p.ID, &p.County, &p.ParcelID, &p.PermitNumber, &p.PermitType, &p.Description, &p.Status, &issuedAt, &p.Valuation); err != nil {
			return nil, err
		}
		p.IssuedAt = parseTime(issuedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}
