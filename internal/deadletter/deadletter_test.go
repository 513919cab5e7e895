package deadletter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillwriter/syncengine/internal/outbox"
	"github.com/quillwriter/syncengine/internal/store"
)

func TestAddGetList(t *testing.T) {
	q := New(Config{})
	id := q.Add(DeadLetter{Table: store.TableChapters, RecordID: "c1", FinalError: "AUTHENTICATION"}, 100)

	dl, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "AUTHENTICATION", dl.FinalError)
	assert.Len(t, q.List(), 1)
}

func TestRemoveAndClear(t *testing.T) {
	q := New(Config{})
	id := q.Add(DeadLetter{Table: store.TableChapters, RecordID: "c1"}, 100)
	require.NoError(t, q.Remove(id))
	assert.Len(t, q.List(), 0)

	q.Add(DeadLetter{Table: store.TableChapters, RecordID: "c2"}, 100)
	q.Add(DeadLetter{Table: store.TableChapters, RecordID: "c3"}, 100)
	q.Clear()
	assert.Empty(t, q.List())
}

func TestCleanupAgesOut(t *testing.T) {
	q := New(Config{})
	q.Add(DeadLetter{Table: store.TableChapters, RecordID: "old"}, 0)
	q.Add(DeadLetter{Table: store.TableChapters, RecordID: "new"}, int64(2*24*60*60*1000))

	eightDays := int64(8 * 24 * 60 * 60 * 1000)
	removed := q.Cleanup(eightDays)
	assert.Equal(t, 1, removed)
	assert.Len(t, q.List(), 1)
}

func TestRetryBuildsFreshEntry(t *testing.T) {
	q := New(Config{})
	id := q.Add(DeadLetter{
		Table:    store.TableChapters,
		RecordID: "c1",
		Action:   outbox.ActionUpsert,
		Payload:  map[string]any{"body": "hi"},
	}, 100)

	entry, err := q.Retry(id)
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Attempts)
	assert.Equal(t, outbox.StatusPending, entry.Status)
	assert.Equal(t, "hi", entry.Payload["body"])
}
