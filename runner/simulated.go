package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sanchay-T/influencer-platform/model"
	"github.com/Sanchay-T/influencer-platform/store"
)

// SimulatedRunner synthesizes deterministic creator batches instead of
// calling a provider. It backs the standalone/development mode so the whole
// continuation pipeline can run without provider credentials.
type SimulatedRunner struct {
	store     store.JobStore
	chunkSize int
}

// NewSimulatedRunner creates a simulated runner producing chunkSize creators
// per invocation (default 10).
func NewSimulatedRunner(st store.JobStore, chunkSize int) *SimulatedRunner {
	if chunkSize <= 0 {
		chunkSize = 10
	}
	return &SimulatedRunner{store: st, chunkSize: chunkSize}
}

// Run produces the next synthetic batch for the job. Batch contents derive
// from the job's platform and the current processed offset, so a redundant
// invocation regenerates the same creators and the merge layer absorbs them.
func (r *SimulatedRunner) Run(ctx context.Context, jobID string) (*ChunkResult, error) {
	started := time.Now()

	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job for simulated chunk: %w", err)
	}

	remaining := job.TargetResults - job.ProcessedResults
	if remaining <= 0 {
		return &ChunkResult{
			Status:  StatusCompleted,
			HasMore: false,
			Metrics: ChunkMetrics{Duration: time.Since(started)},
		}, nil
	}

	count := r.chunkSize
	if count > remaining {
		count = remaining
	}

	creators := make([]model.CreatorRecord, count)
	for i := range creators {
		ordinal := job.ProcessedResults + i
		creators[i] = model.CreatorRecord{
			Handle:      fmt.Sprintf("%s_creator_%04d", job.Platform, ordinal),
			ExternalID:  fmt.Sprintf("sim-%s-%04d", job.Platform, ordinal),
			DisplayName: fmt.Sprintf("Simulated Creator %d", ordinal),
			Platform:    job.Platform,
			Followers:   int64(1000 * (ordinal + 1)),
		}
	}

	hasMore := job.ProcessedResults+count < job.TargetResults
	status := StatusProcessing
	if !hasMore {
		status = StatusCompleted
	}

	log.Debug().
		Str("job_id", jobID).
		Int("batch", count).
		Bool("has_more", hasMore).
		Msg("Simulated chunk produced")

	return &ChunkResult{
		Status:   status,
		HasMore:  hasMore,
		Creators: creators,
		Metrics: ChunkMetrics{
			ProviderCalls: 1,
			CreatorsFound: count,
			Duration:      time.Since(started),
		},
	}, nil
}
