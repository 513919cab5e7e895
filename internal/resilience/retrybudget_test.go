package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryBudgetNeverExceedsLimitInWindow(t *testing.T) {
	b := NewRetryBudget(RetryBudgetConfig{Limit: 10, WindowMs: 1000})
	base := time.Now()
	b.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		require.True(t, b.CanRetry())
		b.RecordRetry()
	}
	assert.False(t, b.CanRetry())
}

func TestRetryBudgetResetsAfterWindow(t *testing.T) {
	b := NewRetryBudget(RetryBudgetConfig{Limit: 10, WindowMs: 1000})
	clock := time.Now()
	b.now = func() time.Time { return clock }

	for i := 0; i < 10; i++ {
		b.RecordRetry()
	}
	assert.False(t, b.CanRetry())

	clock = clock.Add(1100 * time.Millisecond)
	assert.True(t, b.CanRetry())
}

func TestRetryBudgetStats(t *testing.T) {
	b := NewRetryBudget(RetryBudgetConfig{Limit: 10, WindowMs: 1000})
	clock := time.Now()
	b.now = func() time.Time { return clock }

	for i := 0; i < 4; i++ {
		b.RecordRetry()
	}
	stats := b.Stats()
	assert.Equal(t, 4, stats.Retries)
	assert.Equal(t, 10, stats.Limit)
	assert.Equal(t, float64(40), stats.PercentUsed)
}
