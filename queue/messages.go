// Package queue provides the Dapr pub/sub continuation queue. Delivery is
// at-least-once; the continuation handler's idempotent skip is what makes
// duplicates safe, not anything at this layer.
package queue

import (
	"fmt"
	"math/rand"
	"time"
)

// Message types
const (
	MessageTypeContinuation = "continuation"
)

// Default publish settings for continuation messages
const (
	DefaultRetries = 3
)

// ContinuationMessage is the payload re-published to trigger the next chunk
// of a search job. The delay is expressed in the queue's native unit,
// whole seconds.
type ContinuationMessage struct {
	MessageType     string           `json:"message_type"`
	URL             string           `json:"url"`
	Body            ContinuationBody `json:"body"`
	Delay           string           `json:"delay"` // e.g. "2s"
	Retries         int              `json:"retries"`
	NotifyOnFailure bool             `json:"notifyOnFailure"`
	Timestamp       time.Time        `json:"timestamp"`
	TraceID         string           `json:"trace_id,omitempty"`
}

// ContinuationBody carries the webhook body
type ContinuationBody struct {
	JobID string `json:"jobId"`
}

// NewContinuationMessage creates a continuation message with default retry
// and failure-notification settings
func NewContinuationMessage(url, jobID string, delay time.Duration) ContinuationMessage {
	return ContinuationMessage{
		MessageType:     MessageTypeContinuation,
		URL:             url,
		Body:            ContinuationBody{JobID: jobID},
		Delay:           formatDelay(delay),
		Retries:         DefaultRetries,
		NotifyOnFailure: true,
		Timestamp:       time.Now(),
		TraceID:         generateTraceID(),
	}
}

// formatDelay converts a duration to whole seconds, rounding up so a
// positive delay never collapses to an immediate delivery.
func formatDelay(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%ds", secs)
}

// Validate validates a ContinuationMessage
func (m *ContinuationMessage) Validate() error {
	if m.Body.JobID == "" {
		return fmt.Errorf("continuation message jobId cannot be empty")
	}
	if m.URL == "" {
		return fmt.Errorf("continuation message URL cannot be empty")
	}
	if m.Retries < 0 {
		return fmt.Errorf("continuation message retries cannot be negative")
	}
	if m.Delay != "" {
		if _, err := time.ParseDuration(m.Delay); err != nil {
			return fmt.Errorf("invalid continuation delay %q: %w", m.Delay, err)
		}
	}
	return nil
}

// generateTraceID generates a trace ID for distributed tracing
func generateTraceID() string {
	return "trace_" + time.Now().Format("20060102150405") + "_" + generateRandomString(8)
}

// generateRandomString generates a random alphanumeric string
func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rng.Intn(len(charset))]
	}
	return string(b)
}
