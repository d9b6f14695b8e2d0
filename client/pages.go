package client

import (
	"context"

	"github.com/Sanchay-T/influencer-platform/pagecache"
)

// PageBrowser is the paged view over one job's results: reads go through a
// per-session page cache so revisiting a page within the TTL costs nothing,
// and neighbouring pages can be prefetched while the user dwells.
type PageBrowser struct {
	jobID string
	cache *pagecache.Cache
}

// NewPageBrowser creates a paged view for one job. Switching jobs means
// creating a new browser; the cache never mixes jobs.
func NewPageBrowser(fetcher StatusFetcher, jobID string, opts ...pagecache.Option) *PageBrowser {
	fetch := func(ctx context.Context, page, pageSize int) (*pagecache.PageResult, error) {
		resp, err := fetcher.FetchStatus(ctx, jobID, page*pageSize, pageSize)
		if err != nil {
			return nil, err
		}
		return &pagecache.PageResult{
			Page:     page,
			PageSize: pageSize,
			Items:    resp.Creators(),
			Total:    resp.Pagination.Total,
		}, nil
	}
	return &PageBrowser{jobID: jobID, cache: pagecache.New(fetch, opts...)}
}

// JobID returns the job this browser is bound to
func (b *PageBrowser) JobID() string {
	return b.jobID
}

// GetPage returns one page of creators, served from cache when fresh
func (b *PageBrowser) GetPage(ctx context.Context, page, pageSize int) (*pagecache.PageResult, error) {
	return b.cache.GetPage(ctx, page, pageSize)
}

// PrefetchAround warms the pages adjacent to the current one
func (b *PageBrowser) PrefetchAround(ctx context.Context, page, pageSize int) {
	pages := []int{page + 1}
	if page > 0 {
		pages = append(pages, page-1)
	}
	b.cache.PrefetchPages(ctx, pages, pageSize)
}

// Invalidate drops every cached page, typically after new results landed
func (b *PageBrowser) Invalidate() {
	b.cache.ClearCache()
}
