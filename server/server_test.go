package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sanchay-T/influencer-platform/continuation"
	"github.com/Sanchay-T/influencer-platform/model"
	"github.com/Sanchay-T/influencer-platform/runner"
	"github.com/Sanchay-T/influencer-platform/store"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
}

type publishCall struct {
	jobID string
	delay time.Duration
}

func (p *fakePublisher) PublishContinuation(ctx context.Context, jobID string, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, publishCall{jobID: jobID, delay: delay})
	return nil
}

func (p *fakePublisher) published() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishCall, len(p.calls))
	copy(out, p.calls)
	return out
}

func newTestServer(t *testing.T, st store.JobStore, pub *fakePublisher, run runner.Runner) *Server {
	t.Helper()
	if run == nil {
		run = runner.Func(func(ctx context.Context, jobID string) (*runner.ChunkResult, error) {
			return &runner.ChunkResult{Status: runner.StatusProcessing, HasMore: true}, nil
		})
	}
	handler := continuation.NewHandler(continuation.Options{
		Store:     st,
		Runner:    run,
		Publisher: pub,
		Verifier:  continuation.NewSignatureVerifier(false, "", ""),
	})
	return New(Options{
		Port:                 0,
		Store:                st,
		Publisher:            pub,
		Handler:              handler,
		JobTimeout:           10 * time.Minute,
		DefaultTargetResults: 100,
		ContinuationDelayMs:  2000,
	})
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitJobCreatesAndEnqueues(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &fakePublisher{}
	srv := newTestServer(t, st, pub, nil)

	rec := postJSON(t, srv.Router(), "/jobs", map[string]interface{}{
		"platform": "tiktok",
		"keywords": []string{"fitness"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Job struct {
			ID            string `json:"id"`
			Status        string `json:"status"`
			TargetResults int    `json:"targetResults"`
		} `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Job.ID)
	assert.Equal(t, "pending", resp.Job.Status)
	assert.Equal(t, 100, resp.Job.TargetResults) // default applied

	// Job row exists and the first continuation went out with no delay.
	job, err := st.GetJob(context.Background(), resp.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 2000, job.ContinuationDelayMs)
	assert.False(t, job.TimeoutAt.IsZero())

	calls := pub.published()
	require.Len(t, calls, 1)
	assert.Equal(t, resp.Job.ID, calls[0].jobID)
	assert.Equal(t, time.Duration(0), calls[0].delay)
}

func TestSubmitJobRejectsBadPayloads(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newTestServer(t, st, &fakePublisher{}, nil)

	cases := []struct {
		name string
		body interface{}
	}{
		{"missing platform", map[string]interface{}{"keywords": []string{"x"}}},
		{"unsupported platform", map[string]interface{}{"platform": "myspace"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postJSON(t, srv.Router(), "/jobs", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitJobMarksErrorWhenEnqueueFails(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &fakePublisher{err: fmt.Errorf("broker unavailable")}
	srv := newTestServer(t, st, pub, nil)

	rec := postJSON(t, srv.Router(), "/jobs", map[string]interface{}{"platform": "tiktok"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func seedJobWithResults(t *testing.T, st store.JobStore, count int) *model.SearchJob {
	t.Helper()
	now := time.Now()
	job := &model.SearchJob{
		ID:            "job-1",
		Status:        model.JobStatusCompleted,
		Platform:      model.PlatformTikTok,
		TargetResults: count,
		TimeoutAt:     now.Add(10 * time.Minute),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))

	creators := make([]model.CreatorRecord, count)
	for i := range creators {
		creators[i] = model.CreatorRecord{Handle: fmt.Sprintf("creator-%03d", i), Platform: model.PlatformTikTok}
	}
	require.NoError(t, st.AppendResults(context.Background(), job.ID, creators))
	return job
}

func TestStatusServesWindowWithNextOffset(t *testing.T) {
	st := store.NewMemoryStore()
	seedJobWithResults(t, st, 10)
	srv := newTestServer(t, st, &fakePublisher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status?jobId=job-1&offset=4&limit=3", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Job struct {
			Status   string  `json:"status"`
			Progress float64 `json:"progress"`
		} `json:"job"`
		Results []struct {
			Creators []model.CreatorRecord `json:"creators"`
		} `json:"results"`
		Pagination struct {
			NextOffset *int `json:"nextOffset"`
			Total      int  `json:"total"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "completed", resp.Job.Status)
	assert.Equal(t, float64(100), resp.Job.Progress)
	require.Len(t, resp.Results, 1)
	require.Len(t, resp.Results[0].Creators, 3)
	assert.Equal(t, "creator-004", resp.Results[0].Creators[0].Handle)
	assert.Equal(t, 10, resp.Pagination.Total)
	require.NotNil(t, resp.Pagination.NextOffset)
	assert.Equal(t, 7, *resp.Pagination.NextOffset)
}

func TestStatusOmitsNextOffsetOnLastPage(t *testing.T) {
	st := store.NewMemoryStore()
	seedJobWithResults(t, st, 5)
	srv := newTestServer(t, st, &fakePublisher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status?jobId=job-1&offset=3&limit=10", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Pagination struct {
			NextOffset *int `json:"nextOffset"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Pagination.NextOffset)
}

func TestStatusValidation(t *testing.T) {
	st := store.NewMemoryStore()
	seedJobWithResults(t, st, 2)
	srv := newTestServer(t, st, &fakePublisher{}, nil)

	cases := []struct {
		name string
		path string
		code int
	}{
		{"missing jobId", "/status", http.StatusBadRequest},
		{"negative offset", "/status?jobId=job-1&offset=-1", http.StatusBadRequest},
		{"zero limit", "/status?jobId=job-1&limit=0", http.StatusBadRequest},
		{"non-numeric offset", "/status?jobId=job-1&offset=abc", http.StatusBadRequest},
		{"unknown job", "/status?jobId=nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestContinuationRouteDrivesChunk(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &fakePublisher{}
	run := runner.Func(func(ctx context.Context, jobID string) (*runner.ChunkResult, error) {
		return &runner.ChunkResult{
			Status:   runner.StatusProcessing,
			HasMore:  true,
			Creators: []model.CreatorRecord{{Handle: "alice", Platform: model.PlatformTikTok}},
		}, nil
	})
	srv := newTestServer(t, st, pub, run)

	now := time.Now()
	job := &model.SearchJob{
		ID:            "job-1",
		Status:        model.JobStatusPending,
		Platform:      model.PlatformTikTok,
		TargetResults: 10,
		TimeoutAt:     now.Add(10 * time.Minute),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))

	rec := postJSON(t, srv.Router(), "/continuation", map[string]string{"jobId": "job-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	fresh, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.ProcessedResults)
	require.Len(t, pub.published(), 1)
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	st := store.NewMemoryStore()
	srv := newTestServer(t, st, &fakePublisher{}, nil)
	srv.opts.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
