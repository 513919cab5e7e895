// Package resilience implements the Error Classifier (C), Backoff Strategy
// (D), Circuit Breaker (E), and Retry Budget (F) described in §4.C-F. The
// circuit breaker is backed by github.com/sony/gobreaker/v2 and the backoff
// strategy by github.com/cenkalti/backoff/v4, in the manner of
// infrastructure/resilience/resilience.go.
package resilience

import "time"

// Category is the classifier's output vocabulary (§4.C). It is the single
// authority for retry decisions downstream — nothing else classifies
// failures.
type Category string

const (
	CategoryNetwork        Category = "NETWORK"
	CategoryRateLimit      Category = "RATE_LIMIT"
	CategoryAuthentication Category = "AUTHENTICATION"
	CategoryClientError    Category = "CLIENT_ERROR"
	CategoryServerError    Category = "SERVER_ERROR"
	CategoryConflict       Category = "CONFLICT"
	CategoryUnknown        Category = "UNKNOWN"
)

// Failure is the classifier's input: whatever the transport raised.
// StatusCode is 0 when the failure never reached the remote (e.g. a
// connection reset). Exactly one of NetworkError or StatusCode should be
// set by callers translating a transport outcome.
type Failure struct {
	StatusCode    int
	RetryAfter    *time.Duration // parsed Retry-After header, if present
	NetworkError  bool
	OriginalError error
}

// Classified is the classifier's output (§4.C).
type Classified struct {
	Category         Category
	IsRetryable      bool
	SuggestedDelayMs int64
	RetryAfterMs     *int64
	OriginalError    error
}

// Classify is a pure function mapping a Failure to a Classified outcome.
// It never inspects payloads (§9 crypto boundary) and is deterministic on
// (StatusCode, NetworkError, presence of RetryAfter) — §8 property 5.
func Classify(f Failure) Classified {
	base := Classified{OriginalError: f.OriginalError}

	switch {
	case f.NetworkError:
		base.Category = CategoryNetwork
		base.IsRetryable = true
		base.SuggestedDelayMs = 1000

	case f.StatusCode == 429:
		base.Category = CategoryRateLimit
		base.IsRetryable = true
		if f.RetryAfter != nil {
			ms := f.RetryAfter.Milliseconds()
			base.RetryAfterMs = &ms
			base.SuggestedDelayMs = ms
		} else {
			base.SuggestedDelayMs = 60000
		}

	case f.StatusCode == 401, f.StatusCode == 403:
		base.Category = CategoryAuthentication
		base.IsRetryable = false

	case f.StatusCode == 400, f.StatusCode == 404, f.StatusCode == 422:
		base.Category = CategoryClientError
		base.IsRetryable = false

	case f.StatusCode == 409:
		base.Category = CategoryConflict
		base.IsRetryable = true
		base.SuggestedDelayMs = 2000

	case f.StatusCode >= 500 && f.StatusCode <= 599:
		base.Category = CategoryServerError
		base.IsRetryable = true
		base.SuggestedDelayMs = 5000

	default:
		base.Category = CategoryUnknown
		base.IsRetryable = true
		base.SuggestedDelayMs = 3000
	}

	return base
}
