package transform

import (
	"github.com/teilomillet/quill/errors"
	"github.com/teilomillet/quill/server/filter"
)

// Outcome says which path produced a Result.
type Outcome string

const (
	OutcomeTransformed Outcome = "transformed"
	OutcomeCached      Outcome = "cached"
	OutcomeBypassed    Outcome = "bypassed"
	OutcomeEmpty       Outcome = "empty"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFallback    Outcome = "fallback"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnfiltered  Outcome = "unfiltered"
)

// Request is one message to transform.
type Request struct {
	Identity string
	Message  string
	Filter   filter.Definition
}

// Result is what the caller shows. FollowUp is empty unless quoted text was
// altered. Cause is set only for fallback and failed outcomes. Filter names
// the filter applied and is empty for unfiltered messages.
type Result struct {
	Message  string           `json:"message"`
	Filter   string           `json:"filter,omitempty"`
	FollowUp string           `json:"follow_up,omitempty"`
	Outcome  Outcome          `json:"outcome"`
	Cause    errors.ErrorType `json:"error_type,omitempty"`
}

// Failed reports whether the provider path failed.
func (r Result) Failed() bool {
	return r.Outcome == OutcomeFallback || r.Outcome == OutcomeFailed
}
