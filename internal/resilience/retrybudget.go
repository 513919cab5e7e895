package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RetryBudgetConfig configures the sliding-window retry limiter (§4.F).
// Defaults are the spec's test defaults: 10 retries per 1000ms.
type RetryBudgetConfig struct {
	Limit    int
	WindowMs int64
}

// DefaultRetryBudgetConfig returns the spec's test defaults. Production
// deployments typically configure 100/60000.
func DefaultRetryBudgetConfig() RetryBudgetConfig {
	return RetryBudgetConfig{Limit: 10, WindowMs: 1000}
}

// RetryBudgetStats mirrors §4.F's stats() shape.
type RetryBudgetStats struct {
	Retries       int
	Limit         int
	PercentUsed   float64
	WindowMs      int64
	WindowResetIn time.Duration
}

// RetryBudget is a sliding-window counter of retry events. CanRetry
// never permits more than Limit retries in any WindowMs-length interval
// (§8 property 4). The pruned timestamp log (events) enforces the exact
// window count; a golang.org/x/time/rate.Limiter configured to the same
// rate (Limit tokens per WindowMs, refilling continuously) is the second
// half of the gate, so a burst that clears the sliding-window count
// still can't out-run the steady-state rate between prunes.
type RetryBudget struct {
	mu      sync.Mutex
	cfg     RetryBudgetConfig
	events  []time.Time
	limiter *rate.Limiter

	now func() time.Time
}

// NewRetryBudget constructs a RetryBudget with cfg, filling in defaults.
func NewRetryBudget(cfg RetryBudgetConfig) *RetryBudget {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultRetryBudgetConfig().Limit
	}
	if cfg.WindowMs <= 0 {
		cfg.WindowMs = DefaultRetryBudgetConfig().WindowMs
	}

	window := time.Duration(cfg.WindowMs) * time.Millisecond
	every := rate.Every(window / time.Duration(cfg.Limit))

	return &RetryBudget{
		cfg:     cfg,
		limiter: rate.NewLimiter(every, cfg.Limit),
		now:     time.Now,
	}
}

func (b *RetryBudget) prune(now time.Time) {
	window := time.Duration(b.cfg.WindowMs) * time.Millisecond
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(b.events); i++ {
		if b.events[i].After(cutoff) {
			break
		}
	}
	b.events = b.events[i:]
}

// CanRetry reports whether another retry is currently permitted: the
// sliding window must have room, and the token bucket must have a token
// available at this instant (peeked via TokensAt, not consumed).
func (b *RetryBudget) CanRetry() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.prune(now)
	if len(b.events) >= b.cfg.Limit {
		return false
	}
	return b.limiter.TokensAt(now) >= 1
}

// RecordRetry appends a retry event to the window and consumes the
// token backing it.
func (b *RetryBudget) RecordRetry() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.prune(now)
	b.events = append(b.events, now)
	b.limiter.AllowAt(now)
}

// Stats returns the current window's accounting, per §4.F.
func (b *RetryBudget) Stats() RetryBudgetStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.prune(now)

	resetIn := time.Duration(0)
	if len(b.events) > 0 {
		window := time.Duration(b.cfg.WindowMs) * time.Millisecond
		resetIn = b.events[0].Add(window).Sub(now)
		if resetIn < 0 {
			resetIn = 0
		}
	}

	return RetryBudgetStats{
		Retries:       len(b.events),
		Limit:         b.cfg.Limit,
		PercentUsed:   100 * float64(len(b.events)) / float64(b.cfg.Limit),
		WindowMs:      b.cfg.WindowMs,
		WindowResetIn: resetIn,
	}
}
