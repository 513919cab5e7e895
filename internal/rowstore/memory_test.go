package rowstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpsertSelect(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	err := m.Upsert(ctx, "chapters", Row{"id": "c1", "project_id": "p1", "updated_at": int64(100)}, "id")
	require.NoError(t, err)

	rows, err := m.Select(ctx, "chapters", SelectOptions{ProjectID: "p1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c1", rows[0]["id"])
}

func TestMemoryStoreSelectSince(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_ = m.Upsert(ctx, "chapters", Row{"id": "c1", "project_id": "p1", "updated_at": int64(100)}, "id")
	_ = m.Upsert(ctx, "chapters", Row{"id": "c2", "project_id": "p1", "updated_at": int64(200)}, "id")

	since := int64(100)
	rows, err := m.Select(ctx, "chapters", SelectOptions{ProjectID: "p1", Since: &since})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c2", rows[0]["id"])
}

func TestMemoryStoreExcludesTombstones(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	_ = m.Upsert(ctx, "chapters", Row{"id": "c1", "project_id": "p1", "updated_at": int64(100), "deleted_at": int64(150)}, "id")

	rows, err := m.Select(ctx, "chapters", SelectOptions{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMemoryStoreSubscribePublishesUpserts(t *testing.T) {
	m := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan RealtimeEvent, 4)
	_, err := m.Subscribe(ctx, "p1", "chapters", func(e RealtimeEvent) { events <- e })
	require.NoError(t, err)

	err = m.Upsert(context.Background(), "chapters", Row{"id": "c1", "project_id": "p1", "updated_at": int64(1)}, "id")
	require.NoError(t, err)

	evt := <-events
	assert.Equal(t, "INSERT", evt.EventType)
}
