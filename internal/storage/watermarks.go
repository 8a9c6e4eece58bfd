package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

func (b *baseStore) GetWatermark(ctx context.Context, connectorKey, county string) (time.Time, bool, error) {
	var raw string
	err := b.db.QueryRowContext(ctx, b.q(
		`SELECT watermark FROM connector_watermarks WHERE connector_key = ? AND county = ?`),
		connectorKey, county).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return parseTime(raw), true, nil
}

// SetWatermark stores watermark unless the stored value is already newer.
func (b *baseStore) SetWatermark(ctx context.Context, connectorKey, county string, watermark time.Time) error {
	_, err := b.db.ExecContext(ctx, b.q(
		`INSERT INTO connector_watermarks (connector_key, county, watermark, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (connector_key, county) DO UPDATE SET
			watermark = CASE WHEN excluded.watermark > connector_watermarks.watermark THEN excluded.watermark ELSE connector_watermarks.watermark END,
			updated_at = excluded.updated_at`),
		connectorKey, county, formatTime(watermark), formatTime(nowUTC()))
	return err
}
