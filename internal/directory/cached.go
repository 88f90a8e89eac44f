package directory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached fronts a remote Directory with a bounded, expiring cache of
// positive lookups. Writes through this value invalidate the cached entry;
// writes made elsewhere become visible after ttl.
type Cached struct {
	inner Directory
	cache *expirable.LRU[string, Entry]
}

// NewCached wraps inner with a cache of at most size entries.
func NewCached(inner Directory, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 256
	}
	return &Cached{
		inner: inner,
		cache: expirable.NewLRU[string, Entry](size, nil, ttl),
	}
}

func (c *Cached) Register(ctx context.Context, e Entry) error {
	c.cache.Remove(e.AgentID)
	return c.inner.Register(ctx, e)
}

func (c *Cached) Lookup(ctx context.Context, agentID string) (string, bool, error) {
	e, ok, err := c.GetInfo(ctx, agentID)
	return e.Address, ok, err
}

func (c *Cached) GetInfo(ctx context.Context, agentID string) (Entry, bool, error) {
	if e, ok := c.cache.Get(agentID); ok {
		return e, true, nil
	}
	e, ok, err := c.inner.GetInfo(ctx, agentID)
	if err != nil || !ok {
		return e, ok, err
	}
	c.cache.Add(agentID, e)
	return e, true, nil
}

func (c *Cached) List(ctx context.Context) ([]Entry, error) {
	return c.inner.List(ctx)
}

func (c *Cached) Unregister(ctx context.Context, agentID string) (bool, error) {
	c.cache.Remove(agentID)
	return c.inner.Unregister(ctx, agentID)
}
