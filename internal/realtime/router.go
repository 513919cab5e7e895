// Package realtime implements the Realtime Router (component K): per
// (project, table) subscriptions, debounced change delegation to
// Hydration, and tombstone application for deletes (§4.K).
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/quillwriter/syncengine/internal/config"
	"github.com/quillwriter/syncengine/internal/hydration"
	"github.com/quillwriter/syncengine/internal/logging"
	"github.com/quillwriter/syncengine/internal/rowstore"
	"github.com/quillwriter/syncengine/internal/store"
)

// ConnectionStatus mirrors the postgres_changes subscription lifecycle
// (§4.K: "on subscribed... on timed_out or channel_error...").
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

const defaultDebounce = 500 * time.Millisecond
const reconnectDelay = 3 * time.Second

// Timer is the subset of *time.Timer the Router depends on, so tests can
// inject a synchronous fake instead of waiting on wall-clock debounce
// windows (§9 "timer hygiene" — every timer must be trackable and
// cancelable).
type Timer interface {
	Stop() bool
}

// TimerFactory schedules fn to run after d and returns a handle that can
// cancel it. The default uses time.AfterFunc.
type TimerFactory func(d time.Duration, fn func()) Timer

func realTimerFactory(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Options configures a Router.
type Options struct {
	DebounceWindow    time.Duration
	ClientFingerprint string // §9 open question 3: suppress our own writes
	AutoReconnect     bool
	NewTimer          TimerFactory
	Log               *logging.Logger

	// Mode gates whether an incoming change event triggers a Hydration
	// merge (§4.N: hybrid mode merges J only on open/reconcile, never
	// off a continuous realtime stream). Defaults to always-merge.
	Mode func() config.Mode
}

type projectSubscription struct {
	cancels []func()
	timers  map[string]Timer // "table:recordId" -> pending debounce
	status  ConnectionStatus
}

// Router is the Realtime Router.
type Router struct {
	source   rowstore.RealtimeSource
	hydrator *hydration.Service
	local    *store.Store

	debounce      time.Duration
	fingerprint   string
	autoReconnect bool
	newTimer      TimerFactory
	mode          func() config.Mode
	log           *logging.Logger

	mu    sync.Mutex
	subs  map[string]*projectSubscription // projectID -> subscription state
}

// New constructs a Router.
func New(source rowstore.RealtimeSource, hydrator *hydration.Service, local *store.Store, opts Options) *Router {
	debounce := opts.DebounceWindow
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	newTimer := opts.NewTimer
	if newTimer == nil {
		newTimer = realTimerFactory
	}
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}
	mode := opts.Mode
	if mode == nil {
		mode = func() config.Mode { return config.ModeCloudSync }
	}
	return &Router{
		source:        source,
		hydrator:      hydrator,
		local:         local,
		debounce:      debounce,
		fingerprint:   opts.ClientFingerprint,
		autoReconnect: opts.AutoReconnect,
		newTimer:      newTimer,
		mode:          mode,
		log:           log,
		subs:          make(map[string]*projectSubscription),
	}
}

// SubscribeToProject opens one channel per (projectID, table) pair.
func (r *Router) SubscribeToProject(ctx context.Context, projectID string, tables []store.Table) error {
	if len(tables) == 0 {
		tables = store.Tables
	}

	r.mu.Lock()
	sub, ok := r.subs[projectID]
	if !ok {
		sub = &projectSubscription{timers: make(map[string]Timer), status: StatusDisconnected}
		r.subs[projectID] = sub
	}
	r.mu.Unlock()

	for _, table := range tables {
		table := table
		cancel, err := r.source.Subscribe(ctx, projectID, string(table), func(evt rowstore.RealtimeEvent) {
			r.handleEvent(ctx, projectID, table, evt)
		})
		if err != nil {
			// §7: "Realtime errors trigger reconnection but never affect
			// the Outbox" — record and keep subscribing the rest.
			r.log.WithError(err).WithFields(map[string]any{"project_id": projectID, "table": table}).
				Warn("realtime: subscribe failed")
			r.setStatus(projectID, StatusDisconnected)
			if r.autoReconnect {
				r.scheduleReconnect(ctx, projectID, table)
			}
			continue
		}
		r.mu.Lock()
		sub.cancels = append(sub.cancels, cancel)
		sub.status = StatusConnected
		r.mu.Unlock()
	}
	return nil
}

func (r *Router) scheduleReconnect(ctx context.Context, projectID string, table store.Table) {
	r.newTimer(reconnectDelay, func() {
		cancel, err := r.source.Subscribe(ctx, projectID, string(table), func(evt rowstore.RealtimeEvent) {
			r.handleEvent(ctx, projectID, table, evt)
		})
		if err != nil {
			if r.autoReconnect {
				r.scheduleReconnect(ctx, projectID, table)
			}
			return
		}
		r.mu.Lock()
		if sub, ok := r.subs[projectID]; ok {
			sub.cancels = append(sub.cancels, cancel)
			sub.status = StatusConnected
		}
		r.mu.Unlock()
	})
}

func (r *Router) setStatus(projectID string, status ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[projectID]; ok {
		sub.status = status
	}
}

// Status returns the current connection status for projectID.
func (r *Router) Status(projectID string) ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[projectID]; ok {
		return sub.status
	}
	return StatusDisconnected
}

// UnsubscribeFromProject cancels every channel for projectID and clears
// every debounce timer keyed to its tables (§4.K, §9 timer hygiene:
// "otherwise timers leak").
func (r *Router) UnsubscribeFromProject(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[projectID]
	if !ok {
		return
	}
	for _, cancel := range sub.cancels {
		cancel()
	}
	for key, timer := range sub.timers {
		timer.Stop()
		delete(sub.timers, key)
	}
	delete(r.subs, projectID)
}

func (r *Router) handleEvent(ctx context.Context, projectID string, table store.Table, evt rowstore.RealtimeEvent) {
	if r.isOwnWrite(evt) {
		return
	}

	recordID := recordIDOf(evt)
	if recordID == "" {
		return
	}

	if evt.EventType == "DELETE" {
		r.applyTombstone(table, recordID, evt)
		return
	}

	r.debounceKey(projectID, table, recordID, func() {
		if r.hydrator == nil {
			return
		}
		if r.mode().LocalAuthoritative() {
			// Hybrid/local-only: J merges only on open/reconcile, never
			// off the continuous realtime stream (§4.N).
			return
		}
		r.hydrator.HydrateProject(ctx, hydration.Options{
			ProjectID: projectID,
			Tables:    []store.Table{table},
		})
	})
}

// isOwnWrite suppresses change events this client authored itself,
// identified by a fingerprint column carried on the row (§9 open
// question 3). Absence of a fingerprint, or an empty configured
// fingerprint, means "treat as external" — never suppress by default.
func (r *Router) isOwnWrite(evt rowstore.RealtimeEvent) bool {
	if r.fingerprint == "" {
		return false
	}
	row := evt.New
	if row == nil {
		row = evt.Old
	}
	fp, _ := row["client_fingerprint"].(string)
	return fp != "" && fp == r.fingerprint
}

func (r *Router) applyTombstone(table store.Table, recordID string, evt rowstore.RealtimeEvent) {
	row := evt.Old
	if row == nil {
		row = evt.New
	}
	projectID, _ := row["project_id"].(string)
	at := time.Now().UnixMilli()
	if ua, ok := row["updated_at"].(int64); ok {
		at = ua
	}
	if _, err := r.local.Delete(table, recordID, at); err != nil {
		r.log.WithError(err).WithFields(map[string]any{"table": table, "id": recordID, "project_id": projectID}).
			Warn("realtime: apply tombstone failed")
	}
}

// debounceKey collapses a burst of events on (table, recordID) into a
// single delayed call to fn, matching the spec's `changeDebounceMs`
// window (§4.K).
func (r *Router) debounceKey(projectID string, table store.Table, recordID string, fn func()) {
	key := string(table) + ":" + recordID

	r.mu.Lock()
	sub, ok := r.subs[projectID]
	if !ok {
		sub = &projectSubscription{timers: make(map[string]Timer), status: StatusDisconnected}
		r.subs[projectID] = sub
	}
	if existing, ok := sub.timers[key]; ok {
		existing.Stop()
	}
	sub.timers[key] = r.newTimer(r.debounce, func() {
		r.mu.Lock()
		delete(sub.timers, key)
		r.mu.Unlock()
		fn()
	})
	r.mu.Unlock()
}

func recordIDOf(evt rowstore.RealtimeEvent) string {
	row := evt.New
	if row == nil {
		row = evt.Old
	}
	id, _ := row["id"].(string)
	return id
}
