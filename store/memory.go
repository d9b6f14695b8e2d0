package store

import (
	"context"
	"sync"
	"time"

	"github.com/Sanchay-T/influencer-platform/model"
	"github.com/rs/zerolog/log"
)

// MemoryStore is an in-memory JobStore used by the standalone mode and tests.
// All guarantees of the interface hold within one process.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*model.SearchJob
	batches map[string][][]model.CreatorRecord

	// now is swappable for tests
	now func() time.Time
}

// NewMemoryStore creates a new in-memory job store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*model.SearchJob),
		batches: make(map[string][][]model.CreatorRecord),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Intended for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CreateJob persists a freshly submitted job
func (s *MemoryStore) CreateJob(ctx context.Context, job *model.SearchJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.jobs[job.ID] = &cp

	log.Debug().Str("job_id", job.ID).Str("platform", job.Platform).Msg("Created job")
	return nil
}

// GetJob returns a copy of the current job snapshot
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*model.SearchJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// BeginChunk atomically claims the job for one chunk execution
func (s *MemoryStore) BeginChunk(ctx context.Context, id string, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return false, nil
	}

	now := s.now()
	switch job.Status {
	case model.JobStatusPending:
	case model.JobStatusProcessing:
		if now.Sub(job.UpdatedAt) < staleAfter {
			return false, nil
		}
	default:
		return false, nil
	}

	job.Status = model.JobStatusProcessing
	job.UpdatedAt = now
	return true, nil
}

// ReleaseChunk returns a processing job to pending so the next delivery can
// claim it
func (s *MemoryStore) ReleaseChunk(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.Status != model.JobStatusProcessing {
		return false, nil
	}

	job.Status = model.JobStatusPending
	job.UpdatedAt = s.now()
	return true, nil
}

// MarkTerminal transitions the job to a terminal status unless it already
// reached one
func (s *MemoryStore) MarkTerminal(ctx context.Context, id string, status model.JobStatus, errMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		return false, nil
	}

	now := s.now()
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = now
	if status == model.JobStatusCompleted {
		t := now
		job.CompletedAt = &t
	}

	log.Debug().Str("job_id", id).Str("status", string(status)).Msg("Job reached terminal status")
	return true, nil
}

// AppendResults stores one chunk's creator batch and advances the processed
// counter
func (s *MemoryStore) AppendResults(ctx context.Context, id string, creators []model.CreatorRecord) error {
	if len(creators) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	batch := append([]model.CreatorRecord(nil), creators...)
	s.batches[id] = append(s.batches[id], batch)
	job.ProcessedResults += len(creators)
	job.UpdatedAt = s.now()
	return nil
}

// GetResults returns a page of the flattened result batches in arrival order
func (s *MemoryStore) GetResults(ctx context.Context, id string, offset, limit int) ([]model.CreatorRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.jobs[id]; !ok {
		return nil, 0, ErrJobNotFound
	}

	var all []model.CreatorRecord
	for _, batch := range s.batches[id] {
		all = append(all, batch...)
	}
	total := len(all)

	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []model.CreatorRecord{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	page := append([]model.CreatorRecord(nil), all[offset:end]...)
	return page, total, nil
}

// Close releases the store's resources
func (s *MemoryStore) Close() error {
	return nil
}
