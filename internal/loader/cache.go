package loader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes successful loads by target ID. Concurrent warms of the same
// ID share one underlying load; failures are not remembered, so the next
// warm tries again.
type Cache struct {
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	results map[string]Result
}

// NewCache creates a cache whose shared loads are bounded by timeout
func NewCache(timeout time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		timeout: timeout,
		logger:  logger,
		results: make(map[string]Result),
	}
}

// Warm returns the cached result for id or runs load to produce it. cached
// reports whether the result was already warm.
//
// The shared load is detached from ctx: a caller that gives up stops waiting
// but the load keeps going so other waiters, and the next warm, can use it.
func (c *Cache) Warm(ctx context.Context, id string, load Loader) (res Result, cached bool, err error) {
	if res, ok := c.Get(id); ok {
		return res, true, nil
	}

	ch := c.group.DoChan(id, func() (interface{}, error) {
		if res, ok := c.Get(id); ok {
			return res, nil
		}

		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		res, err := load(loadCtx)
		if err != nil {
			return res, err
		}

		c.mu.Lock()
		c.results[id] = res
		c.mu.Unlock()

		c.logger.Debug("target warmed",
			"trigger_id", id,
			"bytes", res.Bytes)
		return res, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return Result{}, false, r.Err
		}
		return r.Val.(Result), false, nil
	case <-ctx.Done():
		return Result{}, false, ctx.Err()
	}
}

// Get returns the memoized result for id
func (c *Cache) Get(id string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.results[id]
	return res, ok
}

// Invalidate forgets id so the next warm loads it again
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, id)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}
