package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sanchay-T/influencer-platform/model"
)

// pagedFetcher serves a fixed creator list in offset windows
type pagedFetcher struct {
	mu       sync.Mutex
	creators []model.CreatorRecord
	requests [][2]int // offset, limit
	failAt   int      // offset that returns an error; -1 disables
}

func newPagedFetcher(total int) *pagedFetcher {
	creators := make([]model.CreatorRecord, total)
	for i := range creators {
		creators[i] = model.CreatorRecord{Handle: handleFor(i), Platform: model.PlatformTikTok}
	}
	return &pagedFetcher{creators: creators, failAt: -1}
}

func handleFor(i int) string {
	return string(rune('a'+i%26)) + "-creator"
}

func (f *pagedFetcher) FetchStatus(ctx context.Context, jobID string, offset, limit int) (*StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, [2]int{offset, limit})

	if f.failAt >= 0 && offset == f.failAt {
		return nil, errors.New("upstream hiccup")
	}

	end := offset + limit
	if end > len(f.creators) {
		end = len(f.creators)
	}
	var window []model.CreatorRecord
	if offset < end {
		window = f.creators[offset:end]
	}

	resp := &StatusResponse{
		Job:        JobStatusPayload{ID: jobID, Status: "completed"},
		Results:    []ResultsBatch{{Creators: window}},
		Pagination: Pagination{Total: len(f.creators)},
	}
	if end < len(f.creators) {
		next := end
		resp.Pagination.NextOffset = &next
	}
	return resp, nil
}

func (f *pagedFetcher) requestLog() [][2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]int, len(f.requests))
	copy(out, f.requests)
	return out
}

func TestAutoFetcherWalksRemainingPages(t *testing.T) {
	fetcher := newPagedFetcher(10)
	af := NewAutoFetcher(AutoFetcherOptions{Client: fetcher, PageSize: 3, Delay: time.Millisecond})

	var got []model.CreatorRecord
	ran, err := af.Run(context.Background(), "job-1", 4, 10, func(batch []model.CreatorRecord) {
		got = append(got, batch...)
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// Pages start where the poller left off and advance by nextOffset.
	assert.Equal(t, [][2]int{{4, 3}, {7, 3}}, fetcher.requestLog())
	require.Len(t, got, 6)
	assert.Equal(t, handleFor(4), got[0].Handle)
	assert.Equal(t, handleFor(9), got[5].Handle)
	assert.NoError(t, af.Err("job-1"))
}

func TestAutoFetcherSkipsWhenNothingMissing(t *testing.T) {
	fetcher := newPagedFetcher(10)
	af := NewAutoFetcher(AutoFetcherOptions{Client: fetcher, Delay: time.Millisecond})

	ran, err := af.Run(context.Background(), "job-1", 10, 10, nil)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Empty(t, fetcher.requestLog())
}

func TestAutoFetcherRunsOncePerJob(t *testing.T) {
	fetcher := newPagedFetcher(6)
	af := NewAutoFetcher(AutoFetcherOptions{Client: fetcher, PageSize: 10, Delay: time.Millisecond})

	ran, err := af.Run(context.Background(), "job-1", 2, 6, nil)
	require.NoError(t, err)
	assert.True(t, ran)

	before := len(fetcher.requestLog())
	ran, err = af.Run(context.Background(), "job-1", 2, 6, nil)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Len(t, fetcher.requestLog(), before)

	// A different job is unaffected by the guard.
	ran, err = af.Run(context.Background(), "job-2", 2, 6, nil)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestAutoFetcherAbortsAndRetainsError(t *testing.T) {
	fetcher := newPagedFetcher(10)
	fetcher.failAt = 7
	af := NewAutoFetcher(AutoFetcherOptions{Client: fetcher, PageSize: 3, Delay: time.Millisecond})

	var batches int
	ran, err := af.Run(context.Background(), "job-1", 4, 10, func([]model.CreatorRecord) { batches++ })
	assert.True(t, ran)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset 7")
	assert.Equal(t, 1, batches)

	require.Error(t, af.Err("job-1"))

	// The guard still holds after a failed walk.
	ran, err = af.Run(context.Background(), "job-1", 4, 10, nil)
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestNeeded(t *testing.T) {
	assert.True(t, Needed(40, 100))
	assert.False(t, Needed(100, 100))
	assert.False(t, Needed(120, 100))
}
