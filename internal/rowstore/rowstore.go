// Package rowstore defines the Row Store contract (§6) the sync engine
// relies on, plus three implementations: an in-memory fake for tests and
// the demo process, a Supabase-style REST client grounded on
// infrastructure/database/supabase_client.go, and a direct Postgres
// backend grounded on infrastructure/database/generic_repository.go.
package rowstore

import "context"

// Row is the wire shape of a single remote row: a table-specific payload
// plus the universal columns every table carries.
type Row = map[string]any

// SelectOptions scopes a Select call per §6: project_id equality,
// deleted_at IS NULL, and an optional updated_at > since filter.
type SelectOptions struct {
	ProjectID string
	Since     *int64 // unix millis; nil means full (unfiltered) select
}

// RowStore is the contract the engine depends on for all remote reads and
// writes (§6). Every method is keyed by table name as used in the Record
// data model (§3): projects, project_settings, chapters, sections,
// characters, notes.
type RowStore interface {
	// Upsert writes row idempotently, keyed by onConflict (the spec's
	// "id", or "project_id" for project_settings).
	Upsert(ctx context.Context, table string, row Row, onConflict string) error

	// Select returns rows for table matching opts, omitting tombstoned
	// rows (deleted_at IS NULL is always applied server-side).
	Select(ctx context.Context, table string, opts SelectOptions) ([]Row, error)
}

// RealtimeEvent is the shape delivered by postgres_changes subscriptions
// (§6, §4.K): eventType plus the new/old row snapshots.
type RealtimeEvent struct {
	Table     string
	EventType string // INSERT, UPDATE, DELETE
	New       Row
	Old       Row
}

// RealtimeSource is the subset of the Row Store contract the Realtime
// Router depends on: subscribing to postgres_changes for a single
// (project, table) pair.
type RealtimeSource interface {
	// Subscribe opens a channel for (projectID, table) and delivers
	// events to handler until ctx is canceled or the returned cancel
	// func is called.
	Subscribe(ctx context.Context, projectID, table string, handler func(RealtimeEvent)) (cancel func(), err error)
}
