// Package store persists search job state and accumulated result batches.
// The job store is the only resource shared across continuation handler
// invocations; every status mutation goes through it so that concurrent
// duplicate deliveries stay safe.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Sanchay-T/influencer-platform/model"
)

// ErrJobNotFound is returned when the requested job id does not exist
var ErrJobNotFound = errors.New("job not found")

// JobStore defines the persistence operations for search jobs regardless of
// the underlying storage implementation.
type JobStore interface {
	// CreateJob persists a freshly submitted job
	CreateJob(ctx context.Context, job *model.SearchJob) error

	// GetJob returns the current job snapshot
	GetJob(ctx context.Context, id string) (*model.SearchJob, error)

	// BeginChunk atomically claims the job for one chunk execution. It
	// succeeds when the job is pending, or when it is processing but the
	// previous claim went stale (no update for longer than staleAfter).
	// Returns false when another chunk still owns the job. Terminal jobs
	// are never claimed.
	BeginChunk(ctx context.Context, id string, staleAfter time.Duration) (bool, error)

	// ReleaseChunk hands the claim back after a chunk that left the job
	// non-terminal, returning it to pending so the next continuation
	// delivery can claim it. A job that is not processing is left
	// untouched and false is returned. The stale takeover in BeginChunk
	// remains the recovery path for claims lost to a crash.
	ReleaseChunk(ctx context.Context, id string) (bool, error)

	// MarkTerminal transitions the job to a terminal status with a
	// compare-and-set: a job that is already terminal is left untouched
	// and false is returned. This is what makes duplicate deliveries
	// against finished jobs no-ops.
	MarkTerminal(ctx context.Context, id string, status model.JobStatus, errMsg string) (bool, error)

	// AppendResults stores one chunk's creator batch and advances the
	// job's processed counter by the batch size.
	AppendResults(ctx context.Context, id string, creators []model.CreatorRecord) error

	// GetResults returns a page of the flattened result batches in
	// arrival order plus the total number of stored creators.
	GetResults(ctx context.Context, id string, offset, limit int) ([]model.CreatorRecord, int, error)

	// Close releases the underlying storage resources
	Close() error
}

// Factory creates the appropriate job store implementation
type Factory interface {
	Create(cfg Config) (JobStore, error)
}

// Config contains common configuration for all job store implementations
type Config struct {
	// Driver selects the backend: "postgres" or "memory"
	Driver string

	// PostgresConfig is required for the postgres driver
	PostgresConfig *PostgresConfig
}

// PostgresConfig contains Postgres-specific configuration
type PostgresConfig struct {
	URL string
}
