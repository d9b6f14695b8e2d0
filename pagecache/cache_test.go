package pagecache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sanchay-T/influencer-platform/model"
)

func countingFetch(calls *int32) FetchFunc {
	return func(ctx context.Context, page, pageSize int) (*PageResult, error) {
		atomic.AddInt32(calls, 1)
		return &PageResult{
			Page:     page,
			PageSize: pageSize,
			Items:    []model.CreatorRecord{{Handle: fmt.Sprintf("p%d", page)}},
			Total:    100,
		}, nil
	}
}

// TestGetPageCachesFreshEntries tests that a second request for a fresh key
// does not refetch
func TestGetPageCachesFreshEntries(t *testing.T) {
	var calls int32
	c := New(countingFetch(&calls))
	ctx := context.Background()

	first, err := c.GetPage(ctx, 1, 20)
	require.NoError(t, err)
	second, err := c.GetPage(ctx, 1, 20)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Different page size is a different key.
	_, err = c.GetPage(ctx, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestStaleEntryIsAMiss tests that an entry older than the TTL triggers
// exactly one new fetch even when requested concurrently
func TestStaleEntryIsAMiss(t *testing.T) {
	var calls int32
	now := time.Now()
	var clock atomic.Pointer[time.Time]
	clock.Store(&now)

	c := New(countingFetch(&calls), WithClock(func() time.Time { return *clock.Load() }))
	ctx := context.Background()

	_, err := c.GetPage(ctx, 1, 20)
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Advance beyond the TTL: the entry is now a miss.
	later := now.Add(DefaultStaleTTL + time.Second)
	clock.Store(&later)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetPage(ctx, 1, 20)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestConcurrentRequestsCollapse tests that identical concurrent requests
// issue a single network call
func TestConcurrentRequestsCollapse(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	c := New(func(ctx context.Context, page, pageSize int) (*PageResult, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &PageResult{Page: page, PageSize: pageSize, Total: 1}, nil
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetPage(ctx, 3, 20)
			assert.NoError(t, err)
		}()
	}

	// Give the goroutines time to pile onto the same flight.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// TestEvictionDropsOldest tests that inserting one key over budget evicts
// exactly the oldest-stamped entry
func TestEvictionDropsOldest(t *testing.T) {
	var calls int32
	now := time.Now()
	var clock atomic.Pointer[time.Time]
	clock.Store(&now)

	c := New(countingFetch(&calls), WithClock(func() time.Time { return *clock.Load() }))
	ctx := context.Background()

	for page := 1; page <= 11; page++ {
		_, err := c.GetPage(ctx, page, 20)
		require.NoError(t, err)
		next := clock.Load().Add(time.Second)
		clock.Store(&next)
	}

	assert.Equal(t, DefaultMaxSize, c.Len())
	assert.False(t, c.Contains(1, 20), "oldest entry should be evicted")
	for page := 2; page <= 11; page++ {
		assert.True(t, c.Contains(page, 20), "page %d should survive", page)
	}
}

// TestClearCache tests that clearing drops all entries
func TestClearCache(t *testing.T) {
	var calls int32
	c := New(countingFetch(&calls))
	ctx := context.Background()

	_, err := c.GetPage(ctx, 1, 20)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	c.ClearCache()
	assert.Equal(t, 0, c.Len())

	_, err = c.GetPage(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestClearCacheForgetsInFlightFetches tests that a fetch running when the
// cache is cleared neither serves later callers nor repopulates the cache
func TestClearCacheForgetsInFlightFetches(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	c := New(func(ctx context.Context, page, pageSize int) (*PageResult, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			<-release
		}
		return &PageResult{Page: page, PageSize: pageSize, Total: int(n)}, nil
	})
	ctx := context.Background()

	firstDone := make(chan *PageResult, 1)
	go func() {
		result, err := c.GetPage(ctx, 1, 20)
		assert.NoError(t, err)
		firstDone <- result
	}()

	// Wait for the first fetch to be in flight, then clear.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, time.Millisecond)
	c.ClearCache()

	// A post-clear request must start its own fetch, not join the
	// pre-clear flight.
	second, err := c.GetPage(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Total)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// The pre-clear fetch completes but its result stays out of the cache.
	close(release)
	first := <-firstDone
	assert.Equal(t, 1, first.Total)

	cached, err := c.GetPage(ctx, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, cached.Total, "stale in-flight result must not overwrite the fresh entry")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestPrefetchSkipsFreshAndSwallowsErrors tests prefetch behavior
func TestPrefetchSkipsFreshAndSwallowsErrors(t *testing.T) {
	var calls int32
	c := New(func(ctx context.Context, page, pageSize int) (*PageResult, error) {
		atomic.AddInt32(&calls, 1)
		if page == 4 {
			return nil, fmt.Errorf("backend hiccup")
		}
		return &PageResult{Page: page, PageSize: pageSize}, nil
	}, WithPrefetchIdleWait(time.Millisecond))
	ctx := context.Background()

	_, err := c.GetPage(ctx, 2, 20)
	require.NoError(t, err)

	c.PrefetchPages(ctx, []int{2, 3, 4}, 20)

	assert.Eventually(t, func() bool {
		return c.Contains(3, 20)
	}, time.Second, 5*time.Millisecond)

	// Page 2 was fresh and skipped; page 4 failed silently.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.False(t, c.Contains(4, 20))
}
