package source

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vitaliisemenov/failure-lambda-proxy/internal/flags"
)

// entry is the single process-wide cache slot: {config, fetched_at}.
type entry struct {
	config    flags.FlagConfig
	fetchedAt time.Time
	valid     bool
}

// Cache serializes access to the feature-flag configuration behind one
// mutex: at most one fetch runs at a time, and readers that arrive during a
// miss block on the same lock rather than racing duplicate fetches.
type Cache struct {
	mu     sync.Mutex
	slot   entry
	ttl    time.Duration
	fetch  Fetcher
	logger *slog.Logger
	now    func() time.Time
}

// NewCache builds a Cache. ttl is the resolved TTL (see
// internal/settings.Settings.CacheTTL) — zero means "always refetch",
// positive means "serve from cache while fresh".
func NewCache(fetch Fetcher, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		ttl:    ttl,
		fetch:  fetch,
		logger: logger,
		now:    time.Now,
	}
}

// GetConfig returns the current FlagConfig. It is total: every error path
// degrades to returning the best available map (stale cache, or empty)
// rather than propagating to the caller.
func (c *Cache) GetConfig(ctx context.Context) flags.FlagConfig {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slot.valid && c.ttl > 0 && c.now().Sub(c.slot.fetchedAt) < c.ttl {
		return c.slot.config
	}

	raw, err := c.fetchWithRetry(ctx)
	if err != nil {
		if c.slot.valid {
			c.logger.Warn("config fetch failed, serving stale cache", "error", err,
				"age", c.now().Sub(c.slot.fetchedAt).String())
			return c.slot.config
		}
		c.logger.Warn("config fetch failed and no cached value exists, disabling injection", "error", err)
		return flags.FlagConfig{}
	}

	config := flags.Parse(c.logger, raw)
	c.slot = entry{config: config, fetchedAt: c.now(), valid: true}
	return config
}

// fetchWithRetry wraps the underlying Fetcher with two bounded, fast retries
// before giving up to the stale-cache fallback — a supplement to the
// original's single-attempt fetch, kept short so the hot path never stalls
// noticeably even under this extra resilience layer.
func (c *Cache) fetchWithRetry(ctx context.Context) ([]byte, error) {
	var raw []byte

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 20 * time.Millisecond
	expBackoff.MaxInterval = 100 * time.Millisecond
	policy := backoff.WithMaxRetries(expBackoff, 2)

	op := func() error {
		body, err := c.fetch.Fetch(ctx)
		if err != nil {
			return err
		}
		raw = body
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return raw, nil
}
