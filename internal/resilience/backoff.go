package resilience

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig configures the Backoff Strategy (§4.D). Defaults match the
// spec exactly: baseDelay=1000ms, maxDelay=60000ms, jitter factor 0.3.
type BackoffConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

// DefaultBackoffConfig returns the spec's defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay: 1000 * time.Millisecond,
		MaxDelay:  60000 * time.Millisecond,
		Jitter:    0.3,
	}
}

// Delay computes the backoff for the given attempt (1-indexed) and
// classified error, per §4.D's formula:
//
//	base      = classifiedError.SuggestedDelayMs, falling back to BaseDelay
//	raw       = min(MaxDelay, base * 2^(attempt-1))
//	jittered  = raw * (1 + U(-J, +J))
//
// clamped to [0, MaxDelay*(1+J)]. It is backed by
// cenkalti/backoff/v4's exponential backoff generator: a fresh generator
// is seeded with the per-call base delay and stepped forward to the
// requested attempt, so two calls with identical inputs return different
// delays (jitter is never skipped) while still reusing the library's
// randomization rather than hand-rolling it.
func Delay(attempt int, classified Classified, cfg BackoffConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBackoffConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultBackoffConfig().MaxDelay
	}
	if cfg.Jitter <= 0 {
		cfg.Jitter = DefaultBackoffConfig().Jitter
	}

	base := cfg.BaseDelay
	if classified.SuggestedDelayMs > 0 {
		base = time.Duration(classified.SuggestedDelayMs) * time.Millisecond
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.MaxInterval = cfg.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = cfg.Jitter
	bo.MaxElapsedTime = 0
	bo.Reset()

	var jittered time.Duration
	for i := 0; i < attempt; i++ {
		jittered = bo.NextBackOff()
	}

	ceiling := time.Duration(float64(cfg.MaxDelay) * (1 + cfg.Jitter))
	if jittered > ceiling {
		jittered = ceiling
	}
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}
