package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillwriter/syncengine/internal/syncerr"
)

func TestPutGet(t *testing.T) {
	s := New(0)
	rec := Record{ID: "c1", Table: TableChapters, ProjectID: "p1", UpdatedAt: 100}

	_, err := s.Put(rec)
	require.NoError(t, err)

	got, err := s.Get(TableChapters, "c1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, int64(100), got.UpdatedAt)
}

func TestGetNotFound(t *testing.T) {
	s := New(0)
	_, err := s.Get(TableChapters, "missing")
	assert.ErrorIs(t, err, syncerr.ErrNotFound)
}

func TestPutNeverDecreasesUpdatedAt(t *testing.T) {
	s := New(0)
	_, err := s.Put(Record{ID: "c1", Table: TableChapters, ProjectID: "p1", UpdatedAt: 100, Payload: map[string]any{"body": "new"}})
	require.NoError(t, err)

	stored, err := s.Put(Record{ID: "c1", Table: TableChapters, ProjectID: "p1", UpdatedAt: 50, Payload: map[string]any{"body": "stale"}})
	require.NoError(t, err)
	assert.Equal(t, int64(100), stored.UpdatedAt)
	assert.Equal(t, "new", stored.Payload["body"])
}

func TestDeleteWritesTombstone(t *testing.T) {
	s := New(0)
	_, err := s.Put(Record{ID: "c1", Table: TableChapters, ProjectID: "p1", UpdatedAt: 100})
	require.NoError(t, err)

	tomb, err := s.Delete(TableChapters, "c1", 200)
	require.NoError(t, err)
	assert.True(t, tomb.IsTombstone())

	got, err := s.Get(TableChapters, "c1")
	require.NoError(t, err)
	assert.True(t, got.IsTombstone())
}

func TestListSince(t *testing.T) {
	s := New(0)
	_, _ = s.Put(Record{ID: "c1", Table: TableChapters, ProjectID: "p1", UpdatedAt: 100})
	_, _ = s.Put(Record{ID: "c2", Table: TableChapters, ProjectID: "p1", UpdatedAt: 200})
	_, _ = s.Put(Record{ID: "c3", Table: TableChapters, ProjectID: "other", UpdatedAt: 300})

	recs := s.ListSince(TableChapters, "p1", 100)
	require.Len(t, recs, 1)
	assert.Equal(t, "c2", recs[0].ID)
}

func TestQuotaExceeded(t *testing.T) {
	s := New(1)
	_, err := s.Put(Record{ID: "c1", Table: TableChapters, ProjectID: "p1", UpdatedAt: 1})
	require.NoError(t, err)

	_, err = s.Put(Record{ID: "c2", Table: TableChapters, ProjectID: "p1", UpdatedAt: 2})
	assert.ErrorIs(t, err, syncerr.ErrQuotaExceeded)
}

func TestSnapshotRestore(t *testing.T) {
	s := New(0)
	_, _ = s.Put(Record{ID: "c1", Table: TableChapters, ProjectID: "p1", UpdatedAt: 1})

	snap := s.Snapshot()
	require.Len(t, snap, 1)

	s2 := New(0)
	s2.Restore(snap)
	got, err := s2.Get(TableChapters, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UpdatedAt)
}
