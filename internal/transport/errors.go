package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"github.com/clachance14/pipetrak/internal/model"
)

// ValidationError marks a malformed or empty request. Never retried,
// surfaced immediately.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// TransientError marks a network/timeout/5xx failure that is retried
// with bounded exponential backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ConflictError marks server state that diverged from an unconfirmed
// local edit. Never retried automatically.
type ConflictError struct {
	MilestoneID string
	Local       model.Milestone
	Remote      model.Milestone
}

func (e *ConflictError) Error() string {
	return "conflict on milestone " + e.MilestoneID
}

// PartialBatchFailure marks a bulk outcome where a subset of items
// failed. Sibling chunks were never aborted; the per-item reasons are
// aggregated in the bulk result.
type PartialBatchFailure struct {
	Failed int
	Total  int
}

func (e *PartialBatchFailure) Error() string {
	return fmt.Sprintf("partial batch failure: %d of %d items failed", e.Failed, e.Total)
}

// IsRetryable classifies an error for the retry path.
// Returns: (isRetryable, errorType).
func IsRetryable(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return false, "validation_error"
	}
	var ce *ConflictError
	if errors.As(err, &ce) {
		return false, "conflict"
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true, "transient_error"
	}
	var pe *PartialBatchFailure
	if errors.As(err, &pe) {
		return false, "partial_failure"
	}

	// Context errors first: context.DeadlineExceeded satisfies
	// net.Error and would otherwise classify as a network timeout.
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true, "circuit_open"
	}

	return false, "unknown_error"
}
