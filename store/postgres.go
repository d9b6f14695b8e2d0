package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Sanchay-T/influencer-platform/model"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS search_jobs (
	id                    TEXT PRIMARY KEY,
	status                TEXT NOT NULL,
	platform              TEXT NOT NULL,
	keywords              JSONB,
	processed_results     INTEGER NOT NULL DEFAULT 0,
	target_results        INTEGER NOT NULL,
	timeout_at            TIMESTAMPTZ,
	error                 TEXT,
	continuation_delay_ms INTEGER NOT NULL DEFAULT 0,
	completed_at          TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS search_results (
	id         BIGSERIAL PRIMARY KEY,
	job_id     TEXT NOT NULL REFERENCES search_jobs(id) ON DELETE CASCADE,
	creators   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_search_results_job ON search_results(job_id, id);
`

// PostgresStore implements JobStore on Postgres via pgx
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the schema exists
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create Postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().Msg("Postgres job store ready")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to ensure job store schema: %w", err)
	}
	return nil
}

// CreateJob persists a freshly submitted job
func (s *PostgresStore) CreateJob(ctx context.Context, job *model.SearchJob) error {
	if err := job.Validate(); err != nil {
		return err
	}

	keywords, err := json.Marshal(job.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO search_jobs
			(id, status, platform, keywords, processed_results, target_results,
			 timeout_at, error, continuation_delay_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		job.ID, string(job.Status), job.Platform, keywords,
		job.ProcessedResults, job.TargetResults, job.TimeoutAt,
		job.Error, job.ContinuationDelayMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the current job snapshot
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.SearchJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, platform, COALESCE(keywords, '[]'::jsonb),
		       processed_results, target_results,
		       COALESCE(timeout_at, 'epoch'::timestamptz),
		       COALESCE(error, ''), continuation_delay_ms,
		       completed_at, created_at, updated_at
		FROM search_jobs WHERE id = $1`, id)

	var (
		job      model.SearchJob
		status   string
		keywords []byte
	)
	err := row.Scan(&job.ID, &status, &job.Platform, &keywords,
		&job.ProcessedResults, &job.TargetResults, &job.TimeoutAt,
		&job.Error, &job.ContinuationDelayMs,
		&job.CompletedAt, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	job.Status = model.JobStatus(status)
	if job.TimeoutAt.Unix() == 0 {
		job.TimeoutAt = time.Time{}
	}
	if err := json.Unmarshal(keywords, &job.Keywords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keywords for job %s: %w", id, err)
	}
	return &job, nil
}

// BeginChunk atomically claims the job for one chunk execution. The claim is
// a single conditional UPDATE so racing duplicate deliveries cannot both win.
func (s *PostgresStore) BeginChunk(ctx context.Context, id string, staleAfter time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE search_jobs
		SET status = 'processing', updated_at = now()
		WHERE id = $1
		  AND (status = 'pending'
		       OR (status = 'processing' AND updated_at < now() - ($2 * interval '1 second')))`,
		id, staleAfter.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "owned by another chunk" from "unknown job".
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM search_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check job %s: %w", id, err)
	}
	if !exists {
		return false, ErrJobNotFound
	}
	return false, nil
}

// ReleaseChunk returns a processing job to pending with a compare-and-set so
// the next delivery can claim it
func (s *PostgresStore) ReleaseChunk(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE search_jobs
		SET status = 'pending', updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to release job %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM search_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check job %s: %w", id, err)
	}
	if !exists {
		return false, ErrJobNotFound
	}
	return false, nil
}

// MarkTerminal transitions the job to a terminal status with a compare-and-set
func (s *PostgresStore) MarkTerminal(ctx context.Context, id string, status model.JobStatus, errMsg string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE search_jobs
		SET status = $2,
		    error = NULLIF($3, ''),
		    completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'error', 'timeout')`,
		id, string(status), errMsg,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s as %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM search_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check job %s: %w", id, err)
	}
	if !exists {
		return false, ErrJobNotFound
	}
	return false, nil
}

// AppendResults stores one chunk's creator batch and advances the processed
// counter in a single transaction
func (s *PostgresStore) AppendResults(ctx context.Context, id string, creators []model.CreatorRecord) error {
	if len(creators) == 0 {
		return nil
	}

	payload, err := json.Marshal(creators)
	if err != nil {
		return fmt.Errorf("failed to marshal creator batch: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO search_results (job_id, creators) VALUES ($1, $2)`,
		id, payload,
	); err != nil {
		return fmt.Errorf("failed to insert result batch for job %s: %w", id, err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE search_jobs
		SET processed_results = processed_results + $2, updated_at = now()
		WHERE id = $1`,
		id, len(creators),
	)
	if err != nil {
		return fmt.Errorf("failed to advance processed counter for job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit result batch for job %s: %w", id, err)
	}
	return nil
}

// GetResults returns a page of the flattened result batches in arrival order
func (s *PostgresStore) GetResults(ctx context.Context, id string, offset, limit int) ([]model.CreatorRecord, int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT creators FROM search_results WHERE job_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load results for job %s: %w", id, err)
	}
	defer rows.Close()

	var all []model.CreatorRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, 0, fmt.Errorf("failed to scan result batch: %w", err)
		}
		var batch []model.CreatorRecord
		if err := json.Unmarshal(payload, &batch); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal result batch: %w", err)
		}
		all = append(all, batch...)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate result batches: %w", err)
	}

	total := len(all)
	if total == 0 {
		// Distinguish empty results from unknown job.
		if _, err := s.GetJob(ctx, id); err != nil {
			return nil, 0, err
		}
	}

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
	return all[offset:end], total, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
