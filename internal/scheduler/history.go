package scheduler

import (
	"sync"
	"time"
)

// History keeps the most recent tick results for the ops endpoint.
type History struct {
	mu    sync.RWMutex
	buf   []TickResult
	limit int
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 100
	}
	return &History{limit: limit}
}

func (h *History) Add(res TickResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buf) < h.limit {
		h.buf = append(h.buf, res)
		return
	}
	copy(h.buf, h.buf[1:])
	h.buf[len(h.buf)-1] = res
}

// List returns up to limit results, oldest first.
func (h *History) List(limit int) []TickResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > len(h.buf) {
		limit = len(h.buf)
	}
	out := make([]TickResult, 0, limit)
	for i := len(h.buf) - limit; i < len(h.buf); i++ {
		out = append(out, h.buf[i])
	}
	return out
}

func (h *History) Since(ts time.Time) []TickResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]TickResult, 0)
	for _, r := range h.buf {
		if !r.StartedAt.Before(ts) {
			out = append(out, r)
		}
	}
	return out
}

func (h *History) Last() (TickResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.buf) == 0 {
		return TickResult{}, false
	}
	return h.buf[len(h.buf)-1], true
}
