// Package domain defines retry classification for inference attempts.
package domain

import (
	"errors"
	"time"
)

// RetryPolicy defines how the dispatcher retries a failed inference
// attempt before failing the request.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
}

// DefaultRetryPolicy returns the dispatcher's retry behavior: delays
// of 2^attempt seconds capped at MaxDelay, no jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryableInference reports whether a failed inference attempt may be
// retried. Usage-limit rejections never are; the backend stays
// saturated no matter how often the same prompt is replayed.
func RetryableInference(err error) bool {
	switch {
	case errors.Is(err, ErrUsageLimit):
		return false
	case errors.Is(err, ErrBackendTransient), errors.Is(err, ErrBackendMisbehaviour):
		return true
	default:
		return true
	}
}

// FailureMessageFor maps a terminal processing error onto the message
// stored on the failed row and shown to the requesting user.
func FailureMessageFor(err error) string {
	switch {
	case errors.Is(err, ErrUsageLimit):
		return FailureMsgUsageLimit
	case errors.Is(err, ErrResourceTimeout):
		return FailureMsgGPUTimeout
	default:
		return FailureMsgBackend
	}
}
