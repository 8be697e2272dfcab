// Package dedup remembers recently seen keys, e.g. idempotency keys of commands.
package dedup

import (
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]entry
	now  func() time.Time
}

type entry struct {
	exp   time.Time
	value string
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]entry), now: time.Now}
}

// ShouldProcess returns true the first time id is seen within the TTL.
// Empty ids are never deduplicated.
func (d *Deduper) ShouldProcess(id string) bool {
	first, _ := d.Check(id, "")
	return first
}

// Check is ShouldProcess that also records value with id. For a repeated id
// it returns false and the value recorded by the first call, so callers can
// tell a retry from a reused key.
func (d *Deduper) Check(id, value string) (first bool, recorded string) {
	if id == "" {
		return true, value
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.seen[id]; ok && now.Before(e.exp) {
		return false, e.value
	}
	d.seen[id] = entry{exp: now.Add(d.ttl), value: value}
	if len(d.seen) > d.max {
		d.evictLocked(now)
	}
	return true, value
}

// Forget drops id so a failed command can be retried with the same key.
func (d *Deduper) Forget(id string) {
	d.mu.Lock()
	delete(d.seen, id)
	d.mu.Unlock()
}

// Len returns the number of keys currently remembered.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduper) evictLocked(now time.Time) {
	for k, e := range d.seen {
		if now.After(e.exp) {
			delete(d.seen, k)
		}
	}
	// still full of live keys: drop the ones closest to expiry
	for len(d.seen) > d.max {
		var oldest string
		var oldestExp time.Time
		for k, e := range d.seen {
			if oldest == "" || e.exp.Before(oldestExp) {
				oldest, oldestExp = k, e.exp
			}
		}
		delete(d.seen, oldest)
	}
}
