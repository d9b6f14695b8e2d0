// Package pagecache caches fetched result pages for one client session.
// Entries are keyed by (page, pageSize), go stale after a TTL, and the
// oldest entries are evicted once the cache exceeds its size budget.
// Concurrent requests for the same key collapse into one fetch.
package pagecache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/Sanchay-T/influencer-platform/model"
)

// Defaults matching the session cache budget
const (
	DefaultMaxSize  = 10
	DefaultStaleTTL = 5 * time.Minute
	// Idle delay before a prefetch batch starts, so prefetch never
	// competes with a user-visible fetch.
	defaultPrefetchIdleDelay = 50 * time.Millisecond
)

// PageResult is one fetched page of creators
type PageResult struct {
	Page     int
	PageSize int
	Items    []model.CreatorRecord
	Total    int
}

// FetchFunc retrieves a page from the results endpoint
type FetchFunc func(ctx context.Context, page, pageSize int) (*PageResult, error)

type entry struct {
	result    *PageResult
	timestamp time.Time
}

// Cache is a per-session page cache with TTL staleness, bounded size and
// in-flight request collapsing
type Cache struct {
	fetch FetchFunc

	mu       sync.Mutex
	entries  map[string]*entry
	inFlight map[string]bool
	// gen invalidates fetches that were in flight when the cache was
	// cleared: their results must not repopulate the fresh cache.
	gen uint64

	group singleflight.Group

	maxSize          int
	staleTTL         time.Duration
	prefetchIdleWait time.Duration

	// now is swappable for tests
	now func() time.Time
}

// Option configures a Cache
type Option func(*Cache)

// WithMaxSize overrides the cache size budget
func WithMaxSize(n int) Option {
	return func(c *Cache) { c.maxSize = n }
}

// WithStaleTTL overrides the staleness TTL
func WithStaleTTL(d time.Duration) Option {
	return func(c *Cache) { c.staleTTL = d }
}

// WithClock overrides the cache clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithPrefetchIdleWait overrides the prefetch idle delay. Intended for tests.
func WithPrefetchIdleWait(d time.Duration) Option {
	return func(c *Cache) { c.prefetchIdleWait = d }
}

// New creates a page cache around the given fetch function
func New(fetch FetchFunc, opts ...Option) *Cache {
	c := &Cache{
		fetch:            fetch,
		entries:          make(map[string]*entry),
		inFlight:         make(map[string]bool),
		maxSize:          DefaultMaxSize,
		staleTTL:         DefaultStaleTTL,
		prefetchIdleWait: defaultPrefetchIdleDelay,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func cacheKey(page, pageSize int) string {
	return fmt.Sprintf("%d:%d", page, pageSize)
}

// GetPage returns the cached page when fresh, joins an in-flight fetch for
// the same key, or issues a new fetch. A stale entry counts as a miss.
func (c *Cache) GetPage(ctx context.Context, page, pageSize int) (*PageResult, error) {
	key := cacheKey(page, pageSize)

	if result := c.lookupFresh(key); result != nil {
		return result, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another caller may have populated the entry while this one
		// waited on the flight group.
		if result := c.lookupFresh(key); result != nil {
			return result, nil
		}

		c.setInFlight(key, true)
		defer c.setInFlight(key, false)
		gen := c.currentGen()

		result, err := c.fetch(ctx, page, pageSize)
		if err != nil {
			return nil, err
		}
		c.storeEntry(key, result, gen)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PageResult), nil
}

// PrefetchPages fetches the given pages in the background after a short idle
// delay. Fresh and in-flight keys are skipped and fetch errors are dropped.
func (c *Cache) PrefetchPages(ctx context.Context, pages []int, pageSize int) {
	if len(pages) == 0 {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.prefetchIdleWait):
		}

		for _, page := range pages {
			key := cacheKey(page, pageSize)
			if c.lookupFresh(key) != nil || c.isInFlight(key) {
				continue
			}
			if _, err := c.GetPage(ctx, page, pageSize); err != nil {
				log.Debug().Err(err).Int("page", page).Msg("Prefetch failed, ignoring")
			}
		}
	}()
}

// ClearCache drops all cached and in-flight state. Called whenever the
// active job or filter set changes. Flights already running are forgotten so
// later callers start fresh fetches, and their late results are discarded.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	inFlight := make([]string, 0, len(c.inFlight))
	for key := range c.inFlight {
		inFlight = append(inFlight, key)
	}
	c.entries = make(map[string]*entry)
	c.inFlight = make(map[string]bool)
	c.gen++
	c.mu.Unlock()

	for _, key := range inFlight {
		c.group.Forget(key)
	}
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether a fresh entry exists for the key
func (c *Cache) Contains(page, pageSize int) bool {
	return c.lookupFresh(cacheKey(page, pageSize)) != nil
}

func (c *Cache) lookupFresh(key string) *PageResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().Sub(e.timestamp) >= c.staleTTL {
		return nil
	}
	return e.result
}

func (c *Cache) currentGen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Cache) storeEntry(key string, result *PageResult, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.entries[key] = &entry{result: result, timestamp: c.now()}
	c.evictLocked()
}

// evictLocked deletes the oldest-stamped entries until the cache is within
// budget. Caller holds c.mu.
func (c *Cache) evictLocked() {
	if len(c.entries) <= c.maxSize {
		return
	}

	type stamped struct {
		key string
		ts  time.Time
	}
	all := make([]stamped, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, stamped{k, e.timestamp})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })

	for _, s := range all {
		if len(c.entries) <= c.maxSize {
			break
		}
		delete(c.entries, s.key)
	}
}

func (c *Cache) setInFlight(key string, v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v {
		c.inFlight[key] = true
	} else {
		delete(c.inFlight, key)
	}
}

func (c *Cache) isInFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[key]
}
