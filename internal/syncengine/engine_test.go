package syncengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillwriter/syncengine/internal/config"
	"github.com/quillwriter/syncengine/internal/hydration"
	"github.com/quillwriter/syncengine/internal/outbox"
	"github.com/quillwriter/syncengine/internal/rowstore"
	"github.com/quillwriter/syncengine/internal/store"
)

func TestNewAssemblesEveryComponent(t *testing.T) {
	eng := New(Options{Rows: rowstore.NewMemoryStore()})

	assert.NotNil(t, eng.Local)
	assert.NotNil(t, eng.Outbox)
	assert.NotNil(t, eng.Breaker)
	assert.NotNil(t, eng.Budget)
	assert.NotNil(t, eng.DeadQueue)
	assert.NotNil(t, eng.Stats)
	assert.NotNil(t, eng.Keys)
	assert.NotNil(t, eng.Encoder)
	assert.NotNil(t, eng.Hydrator)
	assert.NotNil(t, eng.Manager)
	assert.NotNil(t, eng.Backup)
	assert.Nil(t, eng.Realtime, "no RealtimeSource configured -> no router")
	assert.Equal(t, config.ModeCloudSync, eng.Mode())
	eng.Close()
}

func TestBootstrapProjectHydratesFromRowStore(t *testing.T) {
	rows := rowstore.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, rows.Upsert(ctx, string(store.TableProjects), rowstore.Row{
		"id": "p1", "updated_at": int64(10), "deleted_at": nil, "title": "My Book",
	}, "id"))

	eng := New(Options{Rows: rows})
	defer eng.Close()

	result, err := eng.BootstrapProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, hydration.BootstrapHydrated, result)

	rec, err := eng.Local.Get(store.TableProjects, "p1")
	require.NoError(t, err)
	assert.Equal(t, "My Book", rec.Payload["title"])
}

func TestSetModeTakesEffectOnNextTick(t *testing.T) {
	rows := rowstore.NewMemoryStore()
	eng := New(Options{Rows: rows})
	defer eng.Close()

	eng.SetMode(config.ModeLocalOnly)
	_, err := eng.Local.Put(store.Record{ID: "c1", Table: store.TableChapters, ProjectID: "p1", UpdatedAt: 1})
	require.NoError(t, err)
	eng.Outbox.Enqueue(outbox.Entry{Table: store.TableChapters, RecordID: "c1", ProjectID: "p1", Action: outbox.ActionUpsert}, 1)

	result := eng.Tick(context.Background())
	assert.True(t, result.Skipped, "local-only mode must skip the drain")

	eng.SetMode(config.ModeCloudSync)
	result = eng.Tick(context.Background())
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Succeeded)
}

func TestCloseProjectUnsubscribesRealtime(t *testing.T) {
	rows := rowstore.NewMemoryStore()
	eng := New(Options{Rows: rows, Realtime: rows})
	defer eng.Close()

	ctx := context.Background()
	require.NoError(t, eng.Realtime.SubscribeToProject(ctx, "p1", []store.Table{store.TableChapters}))
	assert.Equal(t, "connected", string(eng.Realtime.Status("p1")))

	eng.CloseProject("p1")
	assert.Equal(t, "disconnected", string(eng.Realtime.Status("p1")))
}
