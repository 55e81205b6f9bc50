// Package dedup rejects inbound events that were already seen within a TTL
// window. One Guard is shared by every transport and instance.
package dedup

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultTTL is how long a message ID is remembered.
const DefaultTTL = 30 * time.Minute

const defaultCapacity = 10000

// Guard is a concurrency-safe seen-set with time-based expiry. Entries
// younger than the TTL are never evicted: when the cache is full of live
// entries it grows instead.
type Guard struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, time.Time]
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// WithCapacity sets the size at which expired entries are swept eagerly.
func WithCapacity(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.capacity = n
		}
	}
}

// New creates a Guard with the given TTL.
func New(ttl time.Duration, opts ...Option) (*Guard, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g := &Guard{
		ttl:      ttl,
		capacity: defaultCapacity,
		now:      time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	cache, err := lru.New[string, time.Time](g.capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	g.cache = cache
	return g, nil
}

func key(scope, messageID string) string { return scope + "\x00" + messageID }

// Seen records (scope, messageID) and reports whether it was already
// recorded within the TTL. An empty messageID is never a duplicate.
func (g *Guard) Seen(scope, messageID string) bool {
	if messageID == "" {
		return false
	}
	k := key(scope, messageID)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if ts, ok := g.cache.Peek(k); ok {
		if now.Sub(ts) < g.ttl {
			return true
		}
		g.cache.Remove(k)
	}

	if g.cache.Len() >= g.capacity {
		g.sweepLocked(now)
	}
	g.cache.Add(k, now)
	return false
}

// Forget drops (scope, messageID) so a redelivery is processed again.
func (g *Guard) Forget(scope, messageID string) {
	if messageID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache.Remove(key(scope, messageID))
}

// Len returns the number of remembered entries, expired ones included
// until they are swept.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cache.Len()
}

// Sweep removes every expired entry and returns how many were dropped.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked(g.now())
}

// sweepLocked walks entries oldest first. Peek never reorders, so the walk
// can stop at the first live entry. If nothing could be dropped the cache
// doubles so a live entry is never pushed out by the LRU policy.
func (g *Guard) sweepLocked(now time.Time) int {
	removed := 0
	for _, k := range g.cache.Keys() {
		ts, ok := g.cache.Peek(k)
		if !ok {
			continue
		}
		if now.Sub(ts) < g.ttl {
			break
		}
		g.cache.Remove(k)
		removed++
	}
	if g.cache.Len() >= g.capacity {
		g.capacity *= 2
		g.cache.Resize(g.capacity)
	}
	return removed
}
