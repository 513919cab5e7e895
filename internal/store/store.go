package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quillwriter/syncengine/internal/syncerr"
)

// Store is an in-memory, mutex-guarded Local Store, grounded on the
// map-of-maps + clone-on-read/write pattern used throughout
// pkg/storage/memory. It survives process restarts only if the embedding
// application snapshots/restores it (see Snapshot/Restore); the in-process
// contract itself is what the rest of the engine depends on.
type Store struct {
	mu      sync.RWMutex
	records map[key]Record

	// quota, when non-zero, caps the number of live (non-tombstone)
	// records the store will accept, surfacing syncerr.ErrQuotaExceeded
	// once reached — a deliberately simple stand-in for the browser
	// storage-quota failures this component must be able to report.
	quota int
}

// New constructs an empty Store. quota <= 0 means unbounded.
func New(quota int) *Store {
	return &Store{
		records: make(map[key]Record),
		quota:   quota,
	}
}

// Get returns the record at (table, id), or syncerr.ErrNotFound.
func (s *Store) Get(table Table, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key{table, id}]
	if !ok {
		return Record{}, fmt.Errorf("get %s/%s: %w", table, id, syncerr.ErrNotFound)
	}
	return rec.Clone(), nil
}

// List returns every record (including tombstones) in table scoped to
// projectID, ordered by id for determinism. projectID is ignored for the
// top-level projects table.
func (s *Store) List(table Table, projectID string) []Record {
	return s.listSince(table, projectID, 0)
}

// ListSince returns records in table scoped to projectID whose UpdatedAt
// is strictly greater than since.
func (s *Store) ListSince(table Table, projectID string, since int64) []Record {
	return s.listSince(table, projectID, since)
}

func (s *Store) listSince(table Table, projectID string, since int64) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0)
	for k, rec := range s.records {
		if k.table != table {
			continue
		}
		if table != TableProjects && rec.ProjectID != projectID {
			continue
		}
		if rec.UpdatedAt <= since {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Put inserts or overwrites a record. UpdatedAt is never allowed to
// decrease for a given (table, id) — §3 invariant 3 — so a Put carrying a
// stale UpdatedAt is a no-op that returns the current stored record
// unchanged (this is also how LWW merge is implemented by the caller:
// Hydration calls Put unconditionally and relies on this guard).
func (s *Store) Put(rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{rec.Table, rec.ID}
	existing, exists := s.records[k]
	if exists && rec.UpdatedAt <= existing.UpdatedAt {
		return existing.Clone(), nil
	}

	if !exists && !rec.IsTombstone() && s.quota > 0 && s.liveCountLocked() >= s.quota {
		return Record{}, fmt.Errorf("put %s/%s: %w", rec.Table, rec.ID, syncerr.ErrQuotaExceeded)
	}

	stored := rec.Clone()
	s.records[k] = stored
	return stored.Clone(), nil
}

// Delete writes a tombstone for (table, id) at the given millisecond
// timestamp. Deleting a record that does not exist yet is valid — it
// records an anticipatory tombstone, matching the "tombstones are never
// removed by sync" invariant (§3 invariant 2).
func (s *Store) Delete(table Table, id string, at int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{table, id}
	existing, exists := s.records[k]
	if exists && at <= existing.UpdatedAt {
		return existing.Clone(), nil
	}

	tomb := Record{ID: id, Table: table, UpdatedAt: at, DeletedAt: &at}
	if exists {
		tomb.ProjectID = existing.ProjectID
	}
	s.records[k] = tomb
	return tomb.Clone(), nil
}

func (s *Store) liveCountLocked() int {
	n := 0
	for _, rec := range s.records {
		if !rec.IsTombstone() {
			n++
		}
	}
	return n
}

// Snapshot returns every stored record, for export during a persistence
// mode migration (§4.N) or process shutdown.
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore replaces the store's contents with snap, bypassing the
// UpdatedAt monotonicity guard (used for cloud-import during a
// persistence mode migration, §4.N).
func (s *Store) Restore(snap []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[key]Record, len(snap))
	for _, rec := range snap {
		s.records[key{rec.Table, rec.ID}] = rec.Clone()
	}
}
