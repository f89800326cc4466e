package telegram

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

const (
	noticeDedupWindow = 10 * time.Minute
	noticeDedupMax    = 256
)

// dedup suppresses identical notices inside a window, so a task that keeps
// failing does not flood the chat.
type dedup struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	until  map[string]time.Time
}

func newDedup(window time.Duration, max int) *dedup {
	return &dedup{window: window, max: max, until: map[string]time.Time{}}
}

func dedupKey(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (d *dedup) allow(text string, now time.Time) bool {
	key := dedupKey(text)
	d.mu.Lock()
	defer d.mu.Unlock()
	if until, ok := d.until[key]; ok && now.Before(until) {
		return false
	}
	d.until[key] = now.Add(d.window)

	for k, until := range d.until {
		if !now.Before(until) {
			delete(d.until, k)
		}
	}
	// Over the cap: drop the entries closest to expiry.
	for d.max > 0 && len(d.until) > d.max {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range d.until {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(d.until, minKey)
	}
	return true
}
