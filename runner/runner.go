// Package runner defines the chunk execution collaborator. The runner owns
// all provider interaction; the continuation protocol treats it as opaque
// and at-least-once tolerant.
package runner

import (
	"context"
	"time"

	"github.com/Sanchay-T/influencer-platform/model"
)

// Chunk result statuses as reported by the runner
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// ChunkResult is what one provider chunk execution produced
type ChunkResult struct {
	// Status is the runner's own view of the job: "processing",
	// "completed" or "error"
	Status string `json:"status"`

	// HasMore reports whether the provider had more data to fetch.
	// It is consulted only after Status; an error result with HasMore
	// false is still an error, never a completion.
	HasMore bool `json:"hasMore"`

	// Error holds the failure message when Status is "error"
	Error string `json:"error,omitempty"`

	// Creators discovered by this chunk
	Creators []model.CreatorRecord `json:"creators,omitempty"`

	// Metrics describes the chunk's provider work
	Metrics ChunkMetrics `json:"metrics"`
}

// ChunkMetrics captures per-chunk telemetry
type ChunkMetrics struct {
	ProviderCalls int           `json:"providerCalls"`
	CreatorsFound int           `json:"creatorsFound"`
	Duration      time.Duration `json:"duration"`
}

// Runner executes one processing chunk for a job. Implementations wrap the
// per-platform provider adapters and must tolerate redundant invocations
// for the same job.
type Runner interface {
	Run(ctx context.Context, jobID string) (*ChunkResult, error)
}

// Func adapts a plain function to the Runner interface
type Func func(ctx context.Context, jobID string) (*ChunkResult, error)

// Run implements Runner
func (f Func) Run(ctx context.Context, jobID string) (*ChunkResult, error) {
	return f(ctx, jobID)
}
