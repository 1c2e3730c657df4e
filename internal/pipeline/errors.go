// Package pipeline holds the error taxonomy shared by submission intake and
// moderation. Every failure mode surfaced to a caller is one of these typed
// errors; handlers map them to HTTP responses.
package pipeline

import (
	"fmt"
	"time"
)

// ValidationError rejects a submission before any write. The caller can
// resubmit corrected input; no state was created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// RateLimitedError rejects a submission before staging. Dimension reports
// which subject key tripped ("user" or "origin"); remaining counts cover both
// so a client can surface an accurate wait time.
type RateLimitedError struct {
	Dimension       string
	UserRemaining   int
	OriginRemaining int
	RetryAfter      time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s (retry after %s)", e.Dimension, e.RetryAfter.Round(time.Second))
}

// DuplicateError rejects a submission whose content key collides with
// canonical content or a pending submission.
type DuplicateError struct {
	ContentKey string
	Kind       string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s submission: %s", e.Kind, e.ContentKey)
}

// StagingError is a partial-upload failure. Everything staged for the attempt
// has been rolled back; the whole submission is safe to retry.
type StagingError struct {
	Err error
}

func (e *StagingError) Error() string { return fmt.Sprintf("staging failed: %v", e.Err) }
func (e *StagingError) Unwrap() error { return e.Err }

// PromotionError is a partial-move failure during approval. The submission
// stays pending; already-moved assets are idempotent by destination path, so
// retrying the approve re-attempts only the missing ones.
type PromotionError struct {
	Err error
}

func (e *PromotionError) Error() string { return fmt.Sprintf("promotion failed: %v", e.Err) }
func (e *PromotionError) Unwrap() error { return e.Err }

// AlreadyProcessedError is returned when a transition is attempted on a
// terminal submission with a conflicting decision. Status is the current
// terminal status, surfaced so moderators see what already happened.
type AlreadyProcessedError struct {
	Status string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("submission already processed: %s", e.Status)
}
