// Package model provides the core data types for creator discovery jobs
package model

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a search job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
	JobStatusTimeout    JobStatus = "timeout"
)

// Supported platforms
const (
	PlatformTikTok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformYouTube   = "youtube"
)

// IsTerminal reports whether the status is final. Once a job reaches a
// terminal status no further chunk processing may mutate it.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusError || s == JobStatusTimeout
}

// SearchJob represents one user-initiated creator-discovery search.
// It is the source of truth for status, progress counters and the
// timeout deadline. Mutated exclusively through the job store.
type SearchJob struct {
	ID                  string     `json:"id"`
	Status              JobStatus  `json:"status"`
	Platform            string     `json:"platform"`
	Keywords            []string   `json:"keywords,omitempty"`
	ProcessedResults    int        `json:"processedResults"`
	TargetResults       int        `json:"targetResults"`
	TimeoutAt           time.Time  `json:"timeoutAt"`
	Error               string     `json:"error,omitempty"`
	ContinuationDelayMs int        `json:"continuationDelayMs"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Progress returns the job's completion ratio in the range [0, 1].
// A job past its target reports 1 even before being marked completed.
func (j *SearchJob) Progress() float64 {
	if j.Status == JobStatusCompleted {
		return 1
	}
	if j.TargetResults <= 0 {
		return 0
	}
	p := float64(j.ProcessedResults) / float64(j.TargetResults)
	if p > 1 {
		p = 1
	}
	return p
}

// TimedOut reports whether the job's deadline has passed at the given instant.
func (j *SearchJob) TimedOut(now time.Time) bool {
	return !j.TimeoutAt.IsZero() && now.After(j.TimeoutAt)
}

// Validate validates a SearchJob
func (j *SearchJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if j.Platform == "" {
		return fmt.Errorf("job platform cannot be empty")
	}
	if j.Platform != PlatformTikTok && j.Platform != PlatformInstagram && j.Platform != PlatformYouTube {
		return fmt.Errorf("unsupported platform: %s", j.Platform)
	}
	if j.TargetResults <= 0 {
		return fmt.Errorf("target results must be positive")
	}
	switch j.Status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusError, JobStatusTimeout:
	default:
		return fmt.Errorf("invalid status: %s", j.Status)
	}
	return nil
}
