package transactions

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Clock returns the current time. Tests inject a fake one.
type Clock func() time.Time

// Entry is a cached response and the instant it stops being usable.
type Entry struct {
	Data      any
	ExpiresAt time.Time
}

// Cache holds one slot per query shape plus an in-flight slot that lets
// concurrent callers share a single round trip. The in-flight slot is cleared
// when the call settles, whatever the outcome.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     Clock
	entries map[string]Entry
	flight  singleflight.Group
}

// NewCache returns a cache with the given time-to-live.
func NewCache(ttl time.Duration, now Clock) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, entries: make(map[string]Entry)}
}

// Get returns the entry for key only while now < ExpiresAt.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	if !c.now().Before(entry.ExpiresAt) {
		delete(c.entries, key)
		return Entry{}, false
	}
	return entry, true
}

// Fetch returns the live entry for key, joins a request already in flight for
// it, or runs fetch and caches a successful result. The shared call is detached
// from the first caller's cancellation so one caller going away does not fail
// the others; a cancelled caller stops waiting and gets ctx.Err().
func (c *Cache) Fetch(ctx context.Context, key string, fetch func(ctx context.Context) (any, error)) (any, error) {
	if entry, ok := c.Get(key); ok {
		return entry.Data, nil
	}

	ch := c.flight.DoChan(key, func() (any, error) {
		if entry, ok := c.Get(key); ok {
			return entry.Data, nil
		}
		data, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store(key, data)
		return data, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetTTL changes the lifetime of entries stored from now on.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

func (c *Cache) store(key string, data any) {
	c.mu.Lock()
	c.entries[key] = Entry{Data: data, ExpiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
