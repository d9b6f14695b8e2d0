// Package client provides the consumer-side SDK for search jobs: the
// status/results client, the adaptive poller and the fetch-all-pages
// reconciler. Everything here runs in one session and owns no server state.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sanchay-T/influencer-platform/model"
)

// ErrInvalidJSON is the sentinel returned when the status endpoint answers
// with a non-JSON body, typically an HTML error page from a proxy. Callers
// treat it as a transient failure.
var ErrInvalidJSON = errors.New("invalid_json")

// JobStatusPayload mirrors the job block of the status endpoint
type JobStatusPayload struct {
	ID               string   `json:"id"`
	Status           string   `json:"status"`
	Progress         *float64 `json:"progress,omitempty"` // percent, 0-100
	ProcessedResults int      `json:"processedResults"`
	TargetResults    int      `json:"targetResults"`
	Error            string   `json:"error,omitempty"`
}

// ResultsBatch is one chunk's creators as served by the status endpoint
type ResultsBatch struct {
	Creators []model.CreatorRecord `json:"creators"`
}

// Pagination describes the window the server returned
type Pagination struct {
	NextOffset *int `json:"nextOffset,omitempty"`
	Total      int  `json:"total"`
}

// StatusResponse is the full status endpoint payload
type StatusResponse struct {
	Job        JobStatusPayload `json:"job"`
	Results    []ResultsBatch   `json:"results"`
	Pagination Pagination       `json:"pagination"`
}

// Creators flattens the response's result batches in arrival order
func (r *StatusResponse) Creators() []model.CreatorRecord {
	var out []model.CreatorRecord
	for _, batch := range r.Results {
		out = append(out, batch.Creators...)
	}
	return out
}

// StatusFetcher fetches job status plus a window of results
type StatusFetcher interface {
	FetchStatus(ctx context.Context, jobID string, offset, limit int) (*StatusResponse, error)
}

// StatusClient is the HTTP implementation of StatusFetcher
type StatusClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewStatusClient creates a status client for the given API base URL
func NewStatusClient(baseURL string, httpClient *http.Client) *StatusClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &StatusClient{baseURL: baseURL, httpClient: httpClient}
}

// FetchStatus calls GET /status. Undecodable bodies degrade to ErrInvalidJSON
// instead of surfacing a decode panic or an opaque syntax error.
func (c *StatusClient) FetchStatus(ctx context.Context, jobID string, offset, limit int) (*StatusResponse, error) {
	u, err := url.Parse(c.baseURL + "/status")
	if err != nil {
		return nil, fmt.Errorf("invalid status URL: %w", err)
	}
	q := u.Query()
	q.Set("jobId", jobID)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status response: %w", err)
	}

	var status StatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		// Proxies and crash pages answer with HTML; degrade rather
		// than propagate the raw decode error.
		return nil, fmt.Errorf("status endpoint returned %d: %w", resp.StatusCode, ErrInvalidJSON)
	}

	if resp.StatusCode != http.StatusOK {
		if status.Job.Error != "" {
			return nil, fmt.Errorf("status endpoint returned %d: %s", resp.StatusCode, status.Job.Error)
		}
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	return &status, nil
}
