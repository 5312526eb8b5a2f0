package guardian

import (
	"sync"
	"time"
)

const (
	// clockSkew bounds how far a payload timestamp may drift from the
	// guardian wall clock, in either direction.
	clockSkew = 5 * time.Minute

	// noncePruneThreshold triggers opportunistic pruning of expired
	// nonces once the cache grows past it.
	noncePruneThreshold = 100
)

// nonceCache remembers recently seen nonces so a captured request cannot
// be replayed inside the skew window. Safe for concurrent use.
type nonceCache struct {
	mu   sync.Mutex
	seen map[string]time.Time // nonce -> payload timestamp
	now  func() time.Time
}

func newNonceCache() *nonceCache {
	return &nonceCache{seen: make(map[string]time.Time), now: time.Now}
}

// check validates ts against the skew window and records the nonce.
// It returns false when the timestamp is outside the window or the
// nonce was already seen. Pruning of expired entries piggybacks on
// inserts once the cache exceeds its threshold.
func (c *nonceCache) check(nonce string, tsMillis int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ts := time.UnixMilli(tsMillis)
	drift := now.Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > clockSkew {
		return false
	}

	if _, dup := c.seen[nonce]; dup {
		return false
	}
	c.seen[nonce] = ts

	if len(c.seen) > noncePruneThreshold {
		for n, t := range c.seen {
			if now.Sub(t) > clockSkew {
				delete(c.seen, n)
			}
		}
	}
	return true
}

// size reports the number of cached nonces.
func (c *nonceCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
