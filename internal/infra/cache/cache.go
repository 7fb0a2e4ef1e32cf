// Package cache provides a TTL-keyed response cache with per-category
// freshness windows. Keys follow the `<provider-tool-name>:<symbol>`
// convention, so a category substring match is enough to pick the TTL:
// ticker data tolerates seconds of staleness, orderbooks far less, and
// instrument metadata barely changes at all.
package cache

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry struct {
	value     any
	createdAt time.Time
}

// CategoryTTL binds a key substring to a freshness window. The first
// matching category wins, so more specific substrings go first.
type CategoryTTL struct {
	Category string
	TTL      time.Duration
}

type Cache struct {
	defaultTTL time.Duration
	categories []CategoryTTL
	logger     *zap.Logger
	nowFn      func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

type Options struct {
	DefaultTTL time.Duration
	Categories []CategoryTTL
	Logger     *zap.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func New(opts Options) *Cache {
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	categories := make([]CategoryTTL, len(opts.Categories))
	copy(categories, opts.Categories)
	return &Cache{
		defaultTTL: ttl,
		categories: categories,
		logger:     logger.Named("cache"),
		nowFn:      nowFn,
		entries:    make(map[string]entry),
	}
}

// TTLFor resolves the freshness window for a key: first matching category
// substring wins, otherwise the default TTL applies.
func (c *Cache) TTLFor(key string) time.Duration {
	for _, cat := range c.categories {
		if containsFold(key, cat.Category) {
			return cat.TTL
		}
	}
	return c.defaultTTL
}

// Get returns the cached value for key. An entry older than its TTL is
// treated as absent and evicted as a side effect of the read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	age := c.nowFn().Sub(e.createdAt)
	if age > c.TTLFor(key) {
		delete(c.entries, key)
		c.logger.Debug("cache expired", zap.String("key", key), zap.Duration("age", age))
		return nil, false
	}
	c.logger.Debug("cache hit", zap.String("key", key), zap.Duration("age", age))
	return e.value, true
}

// Set overwrites any existing entry for key with a fresh timestamp.
// Concurrent writers for the same key race; last writer wins.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	c.entries[key] = entry{value: value, createdAt: c.nowFn()}
	c.mu.Unlock()
}

// Invalidate removes one entry if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	count := len(c.entries)
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	if count > 0 {
		c.logger.Info("cache cleared", zap.Int("entries", count))
	}
}

// CleanupExpired removes every entry whose TTL has elapsed, independent of
// reads. Intended for periodic background hygiene.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	removed := 0
	for key, e := range c.entries {
		if now.Sub(e.createdAt) > c.TTLFor(key) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("cleaned up expired cache entries", zap.Int("removed", removed))
	}
	return removed
}

// Stats describes cache contents at a point in time.
type Stats struct {
	TotalEntries   int           `json:"total_entries"`
	ValidEntries   int           `json:"valid_entries"`
	ExpiredEntries int           `json:"expired_entries"`
	DefaultTTL     time.Duration `json:"default_ttl"`
	CategoryTTLs   []CategoryTTL `json:"category_ttls"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFn()
	valid := 0
	for key, e := range c.entries {
		if now.Sub(e.createdAt) <= c.TTLFor(key) {
			valid++
		}
	}
	categories := make([]CategoryTTL, len(c.categories))
	copy(categories, c.categories)
	return Stats{
		TotalEntries:   len(c.entries),
		ValidEntries:   valid,
		ExpiredEntries: len(c.entries) - valid,
		DefaultTTL:     c.defaultTTL,
		CategoryTTLs:   categories,
	}
}

func containsFold(s, substr string) bool {
	if substr == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
