package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sanchay-T/influencer-platform/model"
)

// defaultPageSize is the window requested per backfill round trip
const defaultPageSize = 100

// defaultPageDelay spaces sequential page requests so a large backfill does
// not hammer the status endpoint.
const defaultPageDelay = 100 * time.Millisecond

// AutoFetcher backfills the pages a completed job holds beyond what the
// poller already loaded. Each job is fetched at most once per fetcher, even
// if completion is observed repeatedly.
type AutoFetcher struct {
	client   StatusFetcher
	pageSize int
	delay    time.Duration

	mu      sync.Mutex
	started map[string]bool
	errs    map[string]error
}

// AutoFetcherOptions configures an AutoFetcher
type AutoFetcherOptions struct {
	Client   StatusFetcher
	PageSize int
	Delay    time.Duration
}

// NewAutoFetcher creates a backfill reconciler over the given status client
func NewAutoFetcher(opts AutoFetcherOptions) *AutoFetcher {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Delay <= 0 {
		opts.Delay = defaultPageDelay
	}
	return &AutoFetcher{
		client:   opts.Client,
		pageSize: opts.PageSize,
		delay:    opts.Delay,
		started:  make(map[string]bool),
		errs:     make(map[string]error),
	}
}

// Needed reports whether a backfill would fetch anything
func Needed(loadedCount, serverTotal int) bool {
	return serverTotal > loadedCount
}

// Run walks the remaining pages from loadedCount up to serverTotal,
// delivering each page's creators to onBatch in offset order. It returns
// (false, nil) without fetching when the job was already backfilled or
// nothing is missing. The first page error aborts the walk and is both
// returned and retained for Err.
func (a *AutoFetcher) Run(ctx context.Context, jobID string, loadedCount, serverTotal int, onBatch func([]model.CreatorRecord)) (bool, error) {
	if !Needed(loadedCount, serverTotal) {
		return false, nil
	}

	a.mu.Lock()
	if a.started[jobID] {
		a.mu.Unlock()
		return false, nil
	}
	a.started[jobID] = true
	a.mu.Unlock()

	log.Info().Str("job_id", jobID).Int("loaded", loadedCount).Int("total", serverTotal).Msg("Backfilling remaining result pages")

	offset := loadedCount
	for offset < serverTotal {
		resp, err := a.client.FetchStatus(ctx, jobID, offset, a.pageSize)
		if err != nil {
			fetchErr := fmt.Errorf("backfill failed at offset %d: %w", offset, err)
			a.setErr(jobID, fetchErr)
			return true, fetchErr
		}

		creators := resp.Creators()
		if len(creators) == 0 {
			break
		}
		if onBatch != nil {
			onBatch(creators)
		}

		if resp.Pagination.NextOffset == nil {
			break
		}
		offset = *resp.Pagination.NextOffset

		if offset < serverTotal {
			timer := time.NewTimer(a.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				a.setErr(jobID, ctx.Err())
				return true, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return true, nil
}

// Err returns the retained error from a failed backfill, nil otherwise
func (a *AutoFetcher) Err(jobID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errs[jobID]
}

func (a *AutoFetcher) setErr(jobID string, err error) {
	a.mu.Lock()
	a.errs[jobID] = err
	a.mu.Unlock()
}
