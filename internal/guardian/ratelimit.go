package guardian

import (
	"sync"
	"time"
)

const (
	// maxTrackedBuckets caps the number of tracked rate-limit keys to
	// prevent memory exhaustion from attackers rotating user ids.
	maxTrackedBuckets = 10_000

	// rateLimitWindow is the fixed window duration for rate counting.
	rateLimitWindow = 60 * time.Second

	// userRateLimit is the max requests per user id within a window.
	userRateLimit = 120

	// channelRateLimit is the max requests per channel within a window.
	channelRateLimit = 200
)

type bucket struct {
	windowStart time.Time
	count       int
}

// rateLimiter is a fixed-window counter keyed by user id or "ch:<name>".
// Counts reset when a window expires; the 2x burst across a window edge
// is an accepted tradeoff for O(1) operation. Safe for concurrent use.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{buckets: make(map[string]*bucket), now: time.Now}
}

// allow counts one hit against key and reports whether it is within
// limit. Stale buckets are pruned opportunistically when the map
// approaches its cap, inside the same critical section.
func (r *rateLimiter) allow(key string, limit int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if len(r.buckets) >= maxTrackedBuckets {
		for k, b := range r.buckets {
			if now.Sub(b.windowStart) >= rateLimitWindow {
				delete(r.buckets, k)
			}
		}
		// Hard eviction if still at cap.
		for len(r.buckets) >= maxTrackedBuckets {
			for k := range r.buckets {
				delete(r.buckets, k)
				break
			}
		}
	}

	b, ok := r.buckets[key]
	if !ok || now.Sub(b.windowStart) >= rateLimitWindow {
		r.buckets[key] = &bucket{windowStart: now, count: 1}
		return true
	}

	b.count++
	return b.count <= limit
}

// allowUser counts a hit against the user axis.
func (r *rateLimiter) allowUser(userID string) bool {
	return r.allow(userID, userRateLimit)
}

// allowChannel counts a hit against the channel axis.
func (r *rateLimiter) allowChannel(channel string) bool {
	return r.allow("ch:"+channel, channelRateLimit)
}
