package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillwriter/syncengine/internal/config"
	"github.com/quillwriter/syncengine/internal/hydration"
	"github.com/quillwriter/syncengine/internal/rowstore"
	"github.com/quillwriter/syncengine/internal/store"
)

type fakeTimer struct {
	stopped bool
	fn      func()
}

func (f *fakeTimer) Stop() bool {
	if f.stopped {
		return false
	}
	f.stopped = true
	return true
}

// newFakeTimerFactory returns a factory plus a fire func that invokes every
// timer the factory created that was never stopped, simulating "wait for
// the debounce window to elapse".
func newFakeTimerFactory() (TimerFactory, func()) {
	var created []*fakeTimer
	factory := func(_ time.Duration, fn func()) Timer {
		t := &fakeTimer{fn: fn}
		created = append(created, t)
		return t
	}
	fire := func() {
		for _, t := range created {
			if !t.stopped {
				t.fn()
			}
		}
	}
	return factory, fire
}

func newTestRouter(t *testing.T, factory TimerFactory) (*Router, *rowstore.MemoryStore, *store.Store) {
	t.Helper()
	rows := rowstore.NewMemoryStore()
	local := store.New(0)
	hydrator := hydration.New(rows, local, nil, nil)
	r := New(rows, hydrator, local, Options{NewTimer: factory, DebounceWindow: time.Millisecond})
	return r, rows, local
}

func TestHandleEventDebouncesBurstIntoOneHydrate(t *testing.T) {
	factory, fire := newFakeTimerFactory()
	r, rows, local := newTestRouter(t, factory)
	ctx := context.Background()

	require.NoError(t, rows.Upsert(ctx, string(store.TableChapters), rowstore.Row{
		"id": "c1", "project_id": "p1", "updated_at": int64(10), "deleted_at": nil, "title": "v3",
	}, "id"))

	evt := rowstore.RealtimeEvent{EventType: "UPDATE", New: rowstore.Row{"id": "c1", "project_id": "p1"}}
	r.handleEvent(ctx, "p1", store.TableChapters, evt)
	r.handleEvent(ctx, "p1", store.TableChapters, evt)
	r.handleEvent(ctx, "p1", store.TableChapters, evt)

	fire()

	rec, err := local.Get(store.TableChapters, "c1")
	require.NoError(t, err)
	assert.Equal(t, "v3", rec.Payload["title"])
}

func TestHandleEventDeleteAppliesTombstoneImmediately(t *testing.T) {
	factory, _ := newFakeTimerFactory()
	r, _, local := newTestRouter(t, factory)
	ctx := context.Background()

	_, err := local.Put(store.Record{ID: "c1", Table: store.TableChapters, ProjectID: "p1", UpdatedAt: 5, Payload: map[string]any{"title": "alive"}})
	require.NoError(t, err)

	evt := rowstore.RealtimeEvent{EventType: "DELETE", Old: rowstore.Row{"id": "c1", "project_id": "p1", "updated_at": int64(20)}}
	r.handleEvent(ctx, "p1", store.TableChapters, evt)

	rec, err := local.Get(store.TableChapters, "c1")
	require.NoError(t, err)
	assert.True(t, rec.IsTombstone())
}

func TestHandleEventSkipsMergeInHybridMode(t *testing.T) {
	factory, fire := newFakeTimerFactory()
	rows := rowstore.NewMemoryStore()
	local := store.New(0)
	hydrator := hydration.New(rows, local, nil, nil)
	r := New(rows, hydrator, local, Options{
		NewTimer: factory,
		Mode:     func() config.Mode { return config.ModeHybrid },
	})
	ctx := context.Background()

	require.NoError(t, rows.Upsert(ctx, string(store.TableChapters), rowstore.Row{
		"id": "c1", "project_id": "p1", "updated_at": int64(10), "deleted_at": nil, "title": "v3",
	}, "id"))

	evt := rowstore.RealtimeEvent{EventType: "UPDATE", New: rowstore.Row{"id": "c1", "project_id": "p1"}}
	r.handleEvent(ctx, "p1", store.TableChapters, evt)
	fire()

	_, err := local.Get(store.TableChapters, "c1")
	assert.Error(t, err, "hybrid mode must not merge off the continuous realtime stream")
}

func TestHandleEventSuppressesOwnWrites(t *testing.T) {
	factory, fire := newFakeTimerFactory()
	rows := rowstore.NewMemoryStore()
	local := store.New(0)
	hydrator := hydration.New(rows, local, nil, nil)
	r := New(rows, hydrator, local, Options{NewTimer: factory, ClientFingerprint: "this-client"})
	ctx := context.Background()

	require.NoError(t, rows.Upsert(ctx, string(store.TableChapters), rowstore.Row{
		"id": "c1", "project_id": "p1", "updated_at": int64(10), "deleted_at": nil, "title": "remote",
	}, "id"))

	evt := rowstore.RealtimeEvent{EventType: "UPDATE", New: rowstore.Row{"id": "c1", "project_id": "p1", "client_fingerprint": "this-client"}}
	r.handleEvent(ctx, "p1", store.TableChapters, evt)
	fire()

	_, err := local.Get(store.TableChapters, "c1")
	assert.Error(t, err, "own-write event must not trigger hydration")
}

func TestSubscribeAndUnsubscribeClearsTimersAndChannels(t *testing.T) {
	factory, _ := newFakeTimerFactory()
	r, rows, _ := newTestRouter(t, factory)
	ctx := context.Background()

	require.NoError(t, r.SubscribeToProject(ctx, "p1", []store.Table{store.TableChapters, store.TableNotes}))
	assert.Equal(t, StatusConnected, r.Status("p1"))

	evt := rowstore.RealtimeEvent{EventType: "UPDATE", New: rowstore.Row{"id": "c1", "project_id": "p1"}}
	r.handleEvent(ctx, "p1", store.TableChapters, evt)

	r.mu.Lock()
	sub := r.subs["p1"]
	timerCount := len(sub.timers)
	r.mu.Unlock()
	assert.Equal(t, 1, timerCount)

	r.UnsubscribeFromProject("p1")

	r.mu.Lock()
	_, stillTracked := r.subs["p1"]
	r.mu.Unlock()
	assert.False(t, stillTracked)

	// publishing after unsubscribe must not panic or reach any handler
	require.NoError(t, rows.Upsert(ctx, string(store.TableChapters), rowstore.Row{
		"id": "c2", "project_id": "p1", "updated_at": int64(1), "deleted_at": nil,
	}, "id"))
}
