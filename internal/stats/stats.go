// Package stats implements Recovery Stats (component H): process-wide
// counters and category histograms for observability, additionally
// exposed as Prometheus metrics (§12.1) in the manner of
// infrastructure/metrics.
package stats

import (
	"sync"

	"github.com/quillwriter/syncengine/internal/resilience"
)

// Snapshot is the read-only view returned by Stats.Snapshot (§4.H).
type Snapshot struct {
	TotalOperations      int64
	SuccessfulOperations int64
	FailedOperations     int64
	RetriedOperations    int64
	ErrorsByCategory     map[resilience.Category]int64
	AverageRetryCount    float64
	AverageRetryDelayMs  float64
	CircuitBreakerTrips  int64
	RetryBudgetExhausted int64
	DeadLetterCount      int64
}

// Stats is the process-wide Recovery Stats singleton. It is safe for
// concurrent read/update (§4.H: "safe to read concurrently with updates
// — observational only").
type Stats struct {
	mu sync.RWMutex

	totalOperations      int64
	successfulOperations int64
	failedOperations     int64
	retriedOperations    int64
	errorsByCategory     map[resilience.Category]int64
	retryCountSum        int64
	retryDelaySumMs      int64
	circuitBreakerTrips  int64
	retryBudgetExhausted int64
	deadLetterCount      int64
}

var allCategories = []resilience.Category{
	resilience.CategoryNetwork,
	resilience.CategoryRateLimit,
	resilience.CategoryAuthentication,
	resilience.CategoryClientError,
	resilience.CategoryServerError,
	resilience.CategoryConflict,
	resilience.CategoryUnknown,
}

// New constructs a Stats with every category histogram bucket initialized
// to zero (§4.H).
func New() *Stats {
	s := &Stats{}
	s.reset()
	return s
}

func (s *Stats) reset() {
	s.totalOperations = 0
	s.successfulOperations = 0
	s.failedOperations = 0
	s.retriedOperations = 0
	s.retryCountSum = 0
	s.retryDelaySumMs = 0
	s.circuitBreakerTrips = 0
	s.retryBudgetExhausted = 0
	s.deadLetterCount = 0
	s.errorsByCategory = make(map[resilience.Category]int64, len(allCategories))
	for _, c := range allCategories {
		s.errorsByCategory[c] = 0
	}
}

// Reset zeros every counter (§4.H).
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

// RecordSuccess records a successful operation, optionally noting that it
// took retries first.
func (s *Stats) RecordSuccess(retries int, retryDelayMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalOperations++
	s.successfulOperations++
	if retries > 0 {
		s.retriedOperations++
		s.retryCountSum += int64(retries)
		s.retryDelaySumMs += retryDelayMs
	}
}

// RecordFailure records a failed operation under the given classifier
// category.
func (s *Stats) RecordFailure(category resilience.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalOperations++
	s.failedOperations++
	s.errorsByCategory[category]++
}

// RecordCircuitBreakerTrip increments the breaker-trip counter.
func (s *Stats) RecordCircuitBreakerTrip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circuitBreakerTrips++
}

// RecordRetryBudgetExhaustion increments the budget-exhaustion counter.
func (s *Stats) RecordRetryBudgetExhaustion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryBudgetExhausted++
}

// RecordDeadLetter increments the dead-letter counter.
func (s *Stats) RecordDeadLetter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetterCount++
}

// Snapshot returns the current counters (§4.H).
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byCategory := make(map[resilience.Category]int64, len(s.errorsByCategory))
	for k, v := range s.errorsByCategory {
		byCategory[k] = v
	}

	var avgRetryCount, avgRetryDelay float64
	if s.retriedOperations > 0 {
		avgRetryCount = float64(s.retryCountSum) / float64(s.retriedOperations)
		avgRetryDelay = float64(s.retryDelaySumMs) / float64(s.retriedOperations)
	}

	return Snapshot{
		TotalOperations:      s.totalOperations,
		SuccessfulOperations: s.successfulOperations,
		FailedOperations:     s.failedOperations,
		RetriedOperations:    s.retriedOperations,
		ErrorsByCategory:     byCategory,
		AverageRetryCount:    avgRetryCount,
		AverageRetryDelayMs:  avgRetryDelay,
		CircuitBreakerTrips:  s.circuitBreakerTrips,
		RetryBudgetExhausted: s.retryBudgetExhausted,
		DeadLetterCount:      s.deadLetterCount,
	}
}
