package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quillwriter/syncengine/internal/resilience"
)

func TestNewInitializesAllCategories(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	for _, c := range allCategories {
		assert.Equal(t, int64(0), snap.ErrorsByCategory[c])
	}
}

func TestRecordSuccessAndFailure(t *testing.T) {
	s := New()
	s.RecordSuccess(0, 0)
	s.RecordFailure(resilience.CategoryNetwork)
	s.RecordSuccess(2, 400)

	snap := s.Snapshot()
	assert.Equal(t, int64(3), snap.TotalOperations)
	assert.Equal(t, int64(2), snap.SuccessfulOperations)
	assert.Equal(t, int64(1), snap.FailedOperations)
	assert.Equal(t, int64(1), snap.RetriedOperations)
	assert.Equal(t, int64(1), snap.ErrorsByCategory[resilience.CategoryNetwork])
	assert.InDelta(t, 2.0, snap.AverageRetryCount, 0.001)
	assert.InDelta(t, 400.0, snap.AverageRetryDelayMs, 0.001)
}

func TestResetZeroesEverything(t *testing.T) {
	s := New()
	s.RecordSuccess(1, 100)
	s.RecordFailure(resilience.CategoryServerError)
	s.Reset()

	snap := s.Snapshot()
	assert.Equal(t, int64(0), snap.TotalOperations)
	assert.Equal(t, int64(0), snap.ErrorsByCategory[resilience.CategoryServerError])
}
