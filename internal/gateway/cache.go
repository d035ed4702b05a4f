package gateway

import (
	"sync"
	"time"

	"defi-agent-engine/internal/strategy"
)

// SnapshotCache holds the freshest quote per venue and pair. The feed writes
// into it, deciders read from it between REST refreshes.
type SnapshotCache struct {
	mu     sync.RWMutex
	byKey  map[string]strategy.MarketSnapshot
	maxAge time.Duration
}

func NewSnapshotCache(maxAge time.Duration) *SnapshotCache {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	return &SnapshotCache{
		byKey:  make(map[string]strategy.MarketSnapshot),
		maxAge: maxAge,
	}
}

func (c *SnapshotCache) Upsert(snap strategy.MarketSnapshot) {
	key := snap.Venue + "|" + snap.PairKey()
	c.mu.Lock()
	defer c.mu.Unlock()
	// never let a stale replay clobber a fresher quote
	if existing, ok := c.byKey[key]; ok && existing.ObservedAt.After(snap.ObservedAt) {
		return
	}
	c.byKey[key] = snap
}

// Fresh returns every cached snapshot younger than maxAge, for the given
// pairs. An empty pairs slice means all pairs.
func (c *SnapshotCache) Fresh(pairs []string, now time.Time) []strategy.MarketSnapshot {
	wanted := make(map[string]bool, len(pairs))
	for _, pair := range pairs {
		wanted[pair] = true
	}
	cutoff := now.Add(-c.maxAge)

	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []strategy.MarketSnapshot
	for _, snap := range c.byKey {
		if snap.ObservedAt.Before(cutoff) {
			continue
		}
		if len(wanted) > 0 && !wanted[snap.PairKey()] {
			continue
		}
		out = append(out, snap)
	}
	return out
}

func (c *SnapshotCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}
