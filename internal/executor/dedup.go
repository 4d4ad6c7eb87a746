package executor

import (
	"sync"
	"time"
)

// dedupSweepEvery is how many new keys IsDuplicate records between
// sweeps of expired ones.
const dedupSweepEvery = 64

// Dedup remembers keys for a TTL so a spread window is sniped at most
// once even if its signal is delivered again. It is safe for concurrent use.
type Dedup struct {
	seen    map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	inserts int
}

// NewDedup creates a Dedup with the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate returns true if key was seen within the TTL; otherwise it
// records key and returns false.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true
	}
	d.seen[key] = now
	if d.inserts++; d.inserts%dedupSweepEvery == 0 {
		d.sweepLocked(now)
	}
	return false
}

// Cleanup drops expired keys.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sweepLocked(d.now())
}

// Len is the number of keys currently remembered.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Dedup) sweepLocked(now time.Time) {
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
