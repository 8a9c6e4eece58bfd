package ingest

import (
	"context"
	"errors"
	"time"

	"parceltriggers/internal/storage"
)

var errMissingHeader = errors.New("csv line before header row")

// Store is the staging slice of storage that ingest writes.
type Store = storage.StagingStore

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
