package continuation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sanchay-T/influencer-platform/model"
	"github.com/Sanchay-T/influencer-platform/runner"
	"github.com/Sanchay-T/influencer-platform/store"
)

// Skip reasons returned for idempotent no-op deliveries
const (
	ReasonAlreadyProcessed  = "already_processed"
	ReasonAlreadyProcessing = "already_processing"
)

// Handler drives one job chunk per queue delivery. Invocations share no
// in-process state; all coordination goes through the job store.
type Handler struct {
	store     store.JobStore
	runner    runner.Runner
	publisher Publisher
	verifier  *SignatureVerifier

	staleAfter   time.Duration
	defaultDelay time.Duration

	// now is swappable for tests
	now func() time.Time
}

// Publisher re-publishes continuation messages
type Publisher interface {
	PublishContinuation(ctx context.Context, jobID string, delay time.Duration) error
}

// Options configures a Handler
type Options struct {
	Store      store.JobStore
	Runner     runner.Runner
	Publisher  Publisher
	Verifier   *SignatureVerifier
	StaleAfter time.Duration
	// DefaultDelay is used when a job carries no continuation delay of
	// its own
	DefaultDelay time.Duration
}

// NewHandler creates a continuation handler
func NewHandler(opts Options) *Handler {
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	defaultDelay := opts.DefaultDelay
	if defaultDelay <= 0 {
		defaultDelay = 2 * time.Second
	}
	return &Handler{
		store:        opts.Store,
		runner:       opts.Runner,
		publisher:    opts.Publisher,
		verifier:     opts.Verifier,
		staleAfter:   staleAfter,
		defaultDelay: defaultDelay,
		now:          time.Now,
	}
}

// SetClock overrides the handler's clock. Intended for tests.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// Response payload shapes, matching the webhook contract

// SuccessResponse is returned when a chunk ran
type SuccessResponse struct {
	Status                model.JobStatus     `json:"status"`
	Job                   *model.SearchJob    `json:"job"`
	Metrics               runner.ChunkMetrics `json:"metrics"`
	ContinuationScheduled bool                `json:"continuationScheduled"`
}

// SkipResponse is returned for idempotent no-op deliveries
type SkipResponse struct {
	Skipped bool            `json:"skipped"`
	Reason  string          `json:"reason"`
	Status  model.JobStatus `json:"status"`
}

// TimeoutResponse is returned when the job's deadline has passed
type TimeoutResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	JobID  string `json:"jobId"`
}

// FailureResponse is returned for unhandled chunk failures
type FailureResponse struct {
	Error  string `json:"error"`
	JobID  string `json:"jobId,omitempty"`
	Marked string `json:"marked,omitempty"`
}

// Result pairs an HTTP status code with its response payload
type Result struct {
	Code int
	Body interface{}
}

// ServeHTTP implements the POST /continuation webhook
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, FailureResponse{Error: fmt.Sprintf("failed to read body: %v", err)})
		return
	}

	if err := h.verifier.Verify(r.Header.Get(SignatureHeader), body); err != nil {
		log.Warn().Err(err).Msg("Rejected continuation delivery with bad signature")
		writeJSON(w, http.StatusUnauthorized, FailureResponse{Error: err.Error()})
		return
	}

	jobID, err := parseJobID(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, FailureResponse{Error: err.Error()})
		return
	}

	result := h.Process(r.Context(), jobID)
	writeJSON(w, result.Code, result.Body)
}

// HandleMessage adapts the handler to the queue subscription bridge. Queue
// deliveries arrive pre-verified over the Dapr channel, so only the state
// machine runs.
func (h *Handler) HandleMessage(ctx context.Context, jobID string) error {
	result := h.Process(ctx, jobID)
	if result.Code >= http.StatusInternalServerError {
		return fmt.Errorf("continuation processing failed for job %s", jobID)
	}
	return nil
}

// parseJobID extracts a non-empty string jobId from the webhook body
func parseJobID(body []byte) (string, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("invalid JSON body: %v", err)
	}
	raw, ok := payload["jobId"]
	if !ok {
		return "", fmt.Errorf("missing jobId")
	}
	jobID, ok := raw.(string)
	if !ok || jobID == "" {
		return "", fmt.Errorf("jobId must be a non-empty string")
	}
	return jobID, nil
}

// Process runs the continuation state machine for one delivery
func (h *Handler) Process(ctx context.Context, jobID string) Result {
	job, err := h.store.GetJob(ctx, jobID)
	if err == store.ErrJobNotFound {
		return Result{http.StatusNotFound, FailureResponse{Error: "job not found", JobID: jobID}}
	}
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to load job")
		return Result{http.StatusInternalServerError, FailureResponse{Error: err.Error(), JobID: jobID}}
	}

	// Idempotent skip: terminal jobs absorb duplicate deliveries.
	if job.Status.IsTerminal() {
		log.Info().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Msg("Skipping delivery for terminal job")
		return Result{http.StatusOK, SkipResponse{Skipped: true, Reason: ReasonAlreadyProcessed, Status: job.Status}}
	}

	// Deadline check happens before the runner is ever invoked.
	if job.TimedOut(h.now()) {
		msg := fmt.Sprintf("job timed out at %s before the chunk could run", job.TimeoutAt.Format(time.RFC3339))
		changed, markErr := h.store.MarkTerminal(ctx, jobID, model.JobStatusTimeout, msg)
		if markErr != nil {
			log.Error().Err(markErr).Str("job_id", jobID).Msg("Failed to persist timeout status")
		}
		if !changed && markErr == nil {
			// Lost the race to another delivery that finished the job.
			fresh, freshErr := h.store.GetJob(ctx, jobID)
			if freshErr == nil && fresh.Status.IsTerminal() {
				return Result{http.StatusOK, SkipResponse{Skipped: true, Reason: ReasonAlreadyProcessed, Status: fresh.Status}}
			}
		}
		log.Warn().Str("job_id", jobID).Time("timeout_at", job.TimeoutAt).Msg("Job timed out")
		return Result{http.StatusRequestTimeout, TimeoutResponse{Status: "timeout", Error: msg, JobID: jobID}}
	}

	// Claim the chunk. Best-effort mutual exclusion; the store's
	// conditional update is what actually arbitrates races.
	claimed, err := h.store.BeginChunk(ctx, jobID, h.staleAfter)
	if err == store.ErrJobNotFound {
		return Result{http.StatusNotFound, FailureResponse{Error: "job not found", JobID: jobID}}
	}
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to claim job chunk")
		return Result{http.StatusInternalServerError, FailureResponse{Error: err.Error(), JobID: jobID}}
	}
	if !claimed {
		fresh, freshErr := h.store.GetJob(ctx, jobID)
		if freshErr == nil && fresh.Status.IsTerminal() {
			return Result{http.StatusOK, SkipResponse{Skipped: true, Reason: ReasonAlreadyProcessed, Status: fresh.Status}}
		}
		log.Info().Str("job_id", jobID).Msg("Skipping delivery, another chunk owns the job")
		return Result{http.StatusOK, SkipResponse{Skipped: true, Reason: ReasonAlreadyProcessing, Status: model.JobStatusProcessing}}
	}

	result, err := h.runChunk(ctx, jobID)
	if err == nil {
		err = h.settleChunk(ctx, jobID, result)
	}
	if err != nil {
		// Safety net: never leave a job stuck in processing after an
		// unhandled failure.
		marked := ""
		if changed, markErr := h.store.MarkTerminal(ctx, jobID, model.JobStatusError, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("job_id", jobID).Msg("Failed to mark job as error after chunk failure")
		} else if changed {
			marked = string(model.JobStatusError)
		}
		log.Error().Err(err).Str("job_id", jobID).Msg("Chunk execution failed")
		return Result{http.StatusInternalServerError, FailureResponse{Error: err.Error(), JobID: jobID, Marked: marked}}
	}

	fresh, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to reload job after chunk")
		return Result{http.StatusInternalServerError, FailureResponse{Error: err.Error(), JobID: jobID}}
	}

	scheduled, err := h.maybeContinue(ctx, fresh, result)
	if err != nil {
		marked := ""
		if changed, markErr := h.store.MarkTerminal(ctx, jobID, model.JobStatusError, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("job_id", jobID).Msg("Failed to mark job as error after publish failure")
		} else if changed {
			marked = string(model.JobStatusError)
		}
		return Result{http.StatusInternalServerError, FailureResponse{Error: err.Error(), JobID: jobID, Marked: marked}}
	}

	log.Info().
		Str("job_id", jobID).
		Str("status", string(fresh.Status)).
		Int("processed", fresh.ProcessedResults).
		Int("target", fresh.TargetResults).
		Bool("continuation_scheduled", scheduled).
		Msg("Chunk processed")

	return Result{http.StatusOK, SuccessResponse{
		Status:                fresh.Status,
		Job:                   fresh,
		Metrics:               result.Metrics,
		ContinuationScheduled: scheduled,
	}}
}

// runChunk invokes the runner with panic containment. A panicking runner is
// treated like any other chunk failure so the safety net can mark the job.
func (h *Handler) runChunk(ctx context.Context, jobID string) (result *runner.ChunkResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner panicked: %v", r)
		}
	}()

	result, err = h.runner.Run(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("runner failed: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("runner returned no result")
	}
	return result, nil
}

// settleChunk persists the chunk's results and reconciles job status
func (h *Handler) settleChunk(ctx context.Context, jobID string, result *runner.ChunkResult) error {
	if len(result.Creators) > 0 {
		if err := h.store.AppendResults(ctx, jobID, result.Creators); err != nil {
			return fmt.Errorf("failed to persist chunk results: %w", err)
		}
	}

	outcome := ReconcileOutcome(result.Status, result.HasMore)
	status, terminal := outcome.TerminalStatus()
	if !terminal {
		// Hand the claim back before any continuation is published so the
		// next delivery finds the job claimable instead of skipping it as
		// already_processing.
		if _, err := h.store.ReleaseChunk(ctx, jobID); err != nil {
			return fmt.Errorf("failed to release chunk claim: %w", err)
		}
		return nil
	}

	errMsg := ""
	if status == model.JobStatusError {
		errMsg = result.Error
		if errMsg == "" {
			errMsg = "runner reported an error"
		}
	}

	// Safety net ordering: the runner should have persisted its own
	// terminal state already; this write is a no-op when it did.
	if _, err := h.store.MarkTerminal(ctx, jobID, status, errMsg); err != nil {
		return fmt.Errorf("failed to persist %s status: %w", status, err)
	}

	log.Debug().
		Str("job_id", jobID).
		Str("outcome", outcome.String()).
		Str("status", string(status)).
		Msg("Reconciled chunk outcome")
	return nil
}

// maybeContinue re-publishes a continuation when the chunk result and the
// fresh job snapshot both say there is more to do. The gate reads counters
// from the store, not the runner's return value, to avoid stale-read races.
func (h *Handler) maybeContinue(ctx context.Context, job *model.SearchJob, result *runner.ChunkResult) (bool, error) {
	if result.Status == runner.StatusError || !result.HasMore {
		return false, nil
	}
	if job.ProcessedResults >= job.TargetResults {
		return false, nil
	}

	delay := h.defaultDelay
	if job.ContinuationDelayMs > 0 {
		delay = time.Duration(job.ContinuationDelayMs) * time.Millisecond
	}

	if err := h.publisher.PublishContinuation(ctx, job.ID, delay); err != nil {
		return false, fmt.Errorf("failed to schedule continuation: %w", err)
	}
	return true, nil
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
