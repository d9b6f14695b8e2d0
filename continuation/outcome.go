// Package continuation implements the queue-webhook entrypoint for search
// jobs: the state machine that decides, per delivery, whether a chunk runs,
// is skipped, or is marked failed or timed out, and whether a continuation
// message is re-published.
package continuation

import (
	"github.com/Sanchay-T/influencer-platform/model"
	"github.com/Sanchay-T/influencer-platform/runner"
)

// Outcome is the reconciliation verdict for one chunk result, derived
// deterministically from the (status, hasMore) pair in one place.
type Outcome int

const (
	// OutcomeContinuing leaves the job status untouched; more chunks follow
	OutcomeContinuing Outcome = iota
	// OutcomeCompleted marks the job completed
	OutcomeCompleted
	// OutcomeError marks the job failed
	OutcomeError
	// OutcomePartialDone marks the job completed even though the target
	// count was not reached: the runner has nothing more to fetch
	OutcomePartialDone
)

// ReconcileOutcome maps a chunk result onto its outcome. Error is
// special-cased before hasMore is consulted: an error result whose hasMore
// happens to be false must never count as a completion.
func ReconcileOutcome(status string, hasMore bool) Outcome {
	switch {
	case status == runner.StatusCompleted:
		return OutcomeCompleted
	case status == runner.StatusError:
		return OutcomeError
	case !hasMore:
		return OutcomePartialDone
	default:
		return OutcomeContinuing
	}
}

// TerminalStatus returns the job status this outcome persists, if any
func (o Outcome) TerminalStatus() (model.JobStatus, bool) {
	switch o {
	case OutcomeCompleted, OutcomePartialDone:
		return model.JobStatusCompleted, true
	case OutcomeError:
		return model.JobStatusError, true
	default:
		return "", false
	}
}

// String returns a human-readable outcome name
func (o Outcome) String() string {
	switch o {
	case OutcomeContinuing:
		return "continuing"
	case OutcomeCompleted:
		return "completed"
	case OutcomeError:
		return "error"
	case OutcomePartialDone:
		return "partial_done"
	default:
		return "unknown"
	}
}
