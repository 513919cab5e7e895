package outbox

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quillwriter/syncengine/internal/syncerr"
)

// DrainStats is the count-by-status view returned by DrainStats (§4.B).
type DrainStats struct {
	Pending int
	Syncing int
	Success int
	Failed  int
	Dead    int
}

// Outbox is the append-only mutation queue (§4.B). It enforces FIFO
// ordering per (table, recordId): only the earliest pending entry for a
// given key is ever eligible, and a key with an entry currently syncing
// yields no further entries until that entry completes or dead-letters.
type Outbox struct {
	mu       sync.Mutex
	entries map[string]Entry
	order   []string // insertion order of entry IDs, oldest first
}

// New constructs an empty Outbox.
func New() *Outbox {
	return &Outbox{entries: make(map[string]Entry)}
}

// Enqueue appends entry, assigning it a fresh id and CreatedAt/UpdatedAt if
// unset. Returns the assigned id.
func (o *Outbox) Enqueue(entry Entry, nowMs int64) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Status == "" {
		entry.Status = StatusPending
	}
	entry.CreatedAt = nowMs
	entry.UpdatedAt = nowMs

	o.entries[entry.ID] = entry.Clone()
	o.order = append(o.order, entry.ID)
	return entry.ID
}

// Peek returns up to limit entries eligible for a drain attempt at now,
// in insertion order, honoring the same-key FIFO rule (§4.B): a key whose
// earliest entry is already syncing contributes nothing, and only a
// key's earliest pending entry is ever a candidate.
func (o *Outbox) Peek(limit int, nowMs int64) []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()

	inFlight := make(map[Key]bool)
	earliestPending := make(map[Key]string) // key -> entry id, first wins

	for _, id := range o.order {
		e := o.entries[id]
		k := e.key()
		switch e.Status {
		case StatusSyncing:
			inFlight[k] = true
		case StatusPending:
			if _, ok := earliestPending[k]; !ok {
				earliestPending[k] = id
			}
		}
	}

	out := make([]Entry, 0, limit)
	for _, id := range o.order {
		if len(out) >= limit {
			break
		}
		e := o.entries[id]
		if e.Status != StatusPending {
			continue
		}
		k := e.key()
		if inFlight[k] {
			continue
		}
		if earliestPending[k] != id {
			continue
		}
		if e.NextEligibleAt > nowMs {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// MarkSyncing transitions ids to syncing, tagging them with owner so a
// second concurrent drain cannot re-issue them (§3 invariant 2).
func (o *Outbox) MarkSyncing(ids []string, owner string, nowMs int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, id := range ids {
		e, ok := o.entries[id]
		if !ok {
			return fmt.Errorf("mark syncing %s: %w", id, syncerr.ErrNotFound)
		}
		if e.Status == StatusSyncing && e.Owner != owner {
			return fmt.Errorf("mark syncing %s: %w", id, syncerr.ErrOutboxBusy)
		}
		e.Status = StatusSyncing
		e.Owner = owner
		e.UpdatedAt = nowMs
		o.entries[id] = e
	}
	return nil
}

// MarkSuccess transitions id to success and removes it from the active
// queue (an acked entry has nothing left to track).
func (o *Outbox) MarkSuccess(id string, nowMs int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.entries[id]
	if !ok {
		return fmt.Errorf("mark success %s: %w", id, syncerr.ErrNotFound)
	}
	e.Status = StatusSuccess
	e.UpdatedAt = nowMs
	delete(o.entries, id)
	o.removeFromOrder(id)
	return nil
}

// MarkFailed records a failed attempt, appending to the entry's attempt
// history and scheduling nextEligibleAt (§4.L step 3).
func (o *Outbox) MarkFailed(id string, attempt AttemptRecord, nextEligibleAt, nowMs int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.entries[id]
	if !ok {
		return fmt.Errorf("mark failed %s: %w", id, syncerr.ErrNotFound)
	}
	e.Status = StatusFailed
	e.Attempts++
	e.AttemptHistory = append(e.AttemptHistory, attempt)
	e.NextEligibleAt = nextEligibleAt
	e.UpdatedAt = nowMs
	o.entries[id] = e

	// A failed entry remains pending for the next drain tick.
	e2 := o.entries[id]
	e2.Status = StatusPending
	o.entries[id] = e2
	return nil
}

// Remove deletes id from the outbox, used by the Sync Manager's dead-letter
// step once the caller has
// copied the entry into the Dead-Letter Queue (§3 invariant 3: the move is
// modeled as remove-then-add by the caller under the single-threaded
// scheduling model of §5).
func (o *Outbox) Remove(id string) (Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("remove %s: %w", id, syncerr.ErrNotFound)
	}
	delete(o.entries, id)
	o.removeFromOrder(id)
	return e.Clone(), nil
}

func (o *Outbox) removeFromOrder(id string) {
	for i, oid := range o.order {
		if oid == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}

// Get returns a copy of the entry with the given id.
func (o *Outbox) Get(id string) (Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("get %s: %w", id, syncerr.ErrNotFound)
	}
	return e.Clone(), nil
}

// List returns every entry currently held by the outbox, in insertion
// order.
func (o *Outbox) List() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Entry, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.entries[id].Clone())
	}
	return out
}

// DrainStats returns counts by status (§4.B).
func (o *Outbox) DrainStats() DrainStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	var stats DrainStats
	for _, id := range o.order {
		switch o.entries[id].Status {
		case StatusPending:
			stats.Pending++
		case StatusSyncing:
			stats.Syncing++
		case StatusSuccess:
			stats.Success++
		case StatusFailed:
			stats.Failed++
		case StatusDead:
			stats.Dead++
		}
	}
	return stats
}
