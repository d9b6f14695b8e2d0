// Package server exposes the HTTP surface of the discovery service: job
// submission, the continuation webhook and the status/results endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sanchay-T/influencer-platform/continuation"
	"github.com/Sanchay-T/influencer-platform/model"
	"github.com/Sanchay-T/influencer-platform/queue"
	"github.com/Sanchay-T/influencer-platform/store"
)

const (
	defaultStatusLimit = 100
	maxStatusLimit     = 1000

	shutdownGrace = 10 * time.Second
)

// Options configures a Server
type Options struct {
	Port      int
	Store     store.JobStore
	Publisher queue.Publisher
	Handler   *continuation.Handler

	// Job defaults applied at submission time
	JobTimeout           time.Duration
	DefaultTargetResults int
	ContinuationDelayMs  int
}

// Server is the HTTP front of the discovery service
type Server struct {
	opts   Options
	router chi.Router

	// now is swappable for tests
	now func() time.Time
}

// New creates the server and mounts its routes
func New(opts Options) *Server {
	s := &Server{opts: opts, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Post("/jobs", s.handleSubmitJob)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodPost, "/continuation", opts.Handler)

	s.router = r
	return s
}

// Router exposes the mounted routes, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves HTTP until the context is cancelled, then drains in-flight
// requests before returning.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.opts.Port),
		Handler: s.router,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", s.opts.Port).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		log.Info().Msg("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// requestLogger logs each request with zerolog after it completes
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// submitJobRequest is the POST /jobs payload
type submitJobRequest struct {
	Platform            string   `json:"platform"`
	Keywords            []string `json:"keywords"`
	TargetResults       int      `json:"targetResults"`
	ContinuationDelayMs int      `json:"continuationDelayMs"`
}

// handleSubmitJob creates the job row and publishes the first continuation
// message. The chunk itself runs when the queue delivers the message back.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}

	if req.TargetResults <= 0 {
		req.TargetResults = s.opts.DefaultTargetResults
	}
	if req.ContinuationDelayMs <= 0 {
		req.ContinuationDelayMs = s.opts.ContinuationDelayMs
	}

	now := s.now()
	job := &model.SearchJob{
		ID:                  uuid.NewString(),
		Status:              model.JobStatusPending,
		Platform:            req.Platform,
		Keywords:            req.Keywords,
		TargetResults:       req.TargetResults,
		ContinuationDelayMs: req.ContinuationDelayMs,
		TimeoutAt:           now.Add(s.opts.JobTimeout),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := job.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.opts.Store.CreateJob(r.Context(), job); err != nil {
		log.Error().Err(err).Str("platform", job.Platform).Msg("Failed to create job")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	// First delivery goes out immediately; the per-job delay only paces
	// chunk-to-chunk continuations.
	if err := s.opts.Publisher.PublishContinuation(r.Context(), job.ID, 0); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to publish initial continuation")
		if _, markErr := s.opts.Store.MarkTerminal(r.Context(), job.ID, model.JobStatusError, "failed to enqueue job"); markErr != nil {
			log.Error().Err(markErr).Str("job_id", job.ID).Msg("Failed to mark unenqueued job as error")
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}

	log.Info().
		Str("job_id", job.ID).
		Str("platform", job.Platform).
		Int("target", job.TargetResults).
		Msg("Job submitted")

	writeJSON(w, http.StatusCreated, map[string]interface{}{"job": jobView(job)})
}

// statusResponse is the GET /status payload
type statusResponse struct {
	Job        jobPayload     `json:"job"`
	Results    []resultsBatch `json:"results"`
	Pagination pagination     `json:"pagination"`
}

type jobPayload struct {
	ID               string          `json:"id"`
	Status           model.JobStatus `json:"status"`
	Platform         string          `json:"platform"`
	Progress         float64         `json:"progress"` // percent, 0-100
	ProcessedResults int             `json:"processedResults"`
	TargetResults    int             `json:"targetResults"`
	Error            string          `json:"error,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
}

type resultsBatch struct {
	Creators []model.CreatorRecord `json:"creators"`
}

type pagination struct {
	NextOffset *int `json:"nextOffset,omitempty"`
	Total      int  `json:"total"`
}

func jobView(job *model.SearchJob) jobPayload {
	return jobPayload{
		ID:               job.ID,
		Status:           job.Status,
		Platform:         job.Platform,
		Progress:         job.Progress() * 100,
		ProcessedResults: job.ProcessedResults,
		TargetResults:    job.TargetResults,
		Error:            job.Error,
		CreatedAt:        job.CreatedAt,
		CompletedAt:      job.CompletedAt,
	}
}

// handleStatus serves the job snapshot plus one window of results
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}

	offset, err := parseQueryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := parseQueryInt(r, "limit", defaultStatusLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxStatusLimit {
		limit = maxStatusLimit
	}

	job, err := s.opts.Store.GetJob(r.Context(), jobID)
	if err == store.ErrJobNotFound {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	creators, total, err := s.opts.Store.GetResults(r.Context(), jobID, offset, limit)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to load results")
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}

	resp := statusResponse{
		Job:        jobView(job),
		Pagination: pagination{Total: total},
	}
	if len(creators) > 0 {
		resp.Results = []resultsBatch{{Creators: creators}}
	}
	if next := offset + len(creators); next < total {
		resp.Pagination.NextOffset = &next
	}

	writeJSON(w, http.StatusOK, resp)
}

func parseQueryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]interface{}{"job": map[string]string{"error": msg}, "error": msg})
}
