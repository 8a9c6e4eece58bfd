package engine

import (
	"sync"
	"time"
)

// DedupeCache remembers raw-event fingerprints this process already stored,
// so the lookback overlap re-read on every tick skips the database round trip.
type DedupeCache struct {
	mu    sync.Mutex
	items map[string]time.Time
	limit int
}

func NewDedupeCache() *DedupeCache {
	return &DedupeCache{items: make(map[string]time.Time), limit: 100000}
}

func (d *DedupeCache) Has(key string, now time.Time, ttl time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts, ok := d.items[key]
	return ok && now.Sub(ts) <= ttl
}

func (d *DedupeCache) Add(now time.Time, ttl time.Duration, keys ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keys {
		d.items[k] = now
	}
	if len(d.items) > d.limit {
		d.compact(now, ttl)
	}
}

func (d *DedupeCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}

func (d *DedupeCache) compact(now time.Time, ttl time.Duration) {
	for k, ts := range d.items {
		if now.Sub(ts) > ttl {
			delete(d.items, k)
		}
	}
}
