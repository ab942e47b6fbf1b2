package ingest

import (
	"sync"
	"time"

	"hlr-control/internal/model"
)

// stateCache is a single-entry TTL cache over the live cycle row. Every
// sample is tagged with the cycle it was taken under, but the row changes at
// phase-transition speed, not at sample speed; a short TTL keeps the tags
// fresh without hitting the store once per reading.
type stateCache struct {
	mu  sync.Mutex
	ttl time.Duration
	st  model.CycleState
	at  time.Time
}

func newStateCache(ttl time.Duration) *stateCache {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &stateCache{ttl: ttl}
}

// get returns the cached row if it has not expired.
func (c *stateCache) get() (model.CycleState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.at.IsZero() || time.Since(c.at) > c.ttl {
		return model.CycleState{}, false
	}
	return c.st, true
}

// set stores the row with the current timestamp.
func (c *stateCache) set(st model.CycleState) {
	c.mu.Lock()
	c.st = st
	c.at = time.Now()
	c.mu.Unlock()
}
