// Package deadletter implements the Dead-Letter Queue (component G):
// permanently failed operations with full attempt history, supporting
// manual retry/clear. Modeled on domain/gasbank's DeadLetter shape.
package deadletter

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillwriter/syncengine/internal/outbox"
	"github.com/quillwriter/syncengine/internal/store"
	"github.com/quillwriter/syncengine/internal/syncerr"
)

// DeadLetter is a permanently failed operation, retained until manual
// clear, successful manual retry, or retention expiry (§3).
type DeadLetter struct {
	ID        string
	Table     store.Table
	RecordID  string
	ProjectID string
	Action    outbox.Action
	Payload   map[string]any

	FinalError     string
	AttemptHistory []outbox.AttemptRecord
	DeadAt         int64 // unix millis
}

// Clone returns a copy of d safe for the caller to mutate.
func (d DeadLetter) Clone() DeadLetter {
	clone := d
	if d.Payload != nil {
		clone.Payload = make(map[string]any, len(d.Payload))
		for k, v := range d.Payload {
			clone.Payload[k] = v
		}
	}
	clone.AttemptHistory = append([]outbox.AttemptRecord(nil), d.AttemptHistory...)
	return clone
}

// Config bounds the queue's retention, default 7 days / unbounded count.
type Config struct {
	MaxAge      time.Duration
	MaxEntries  int // 0 means unbounded
}

// DefaultConfig returns the spec's default retention (§4.G): 7 days,
// bounded size left to the embedder (0 here means rely on age-based
// cleanup alone unless overridden).
func DefaultConfig() Config {
	return Config{MaxAge: 7 * 24 * time.Hour}
}

// Queue is the Dead-Letter Queue.
type Queue struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]DeadLetter
	order   []string
}

// New constructs an empty Queue.
func New(cfg Config) *Queue {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultConfig().MaxAge
	}
	return &Queue{cfg: cfg, entries: make(map[string]DeadLetter)}
}

// Add moves a permanently failed operation into the queue, assigning it a
// fresh id (§4.G).
func (q *Queue) Add(dl DeadLetter, nowMs int64) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	dl.DeadAt = nowMs
	q.entries[dl.ID] = dl.Clone()
	q.order = append(q.order, dl.ID)
	q.evictLocked()
	return dl.ID
}

// Get returns the dead letter with the given id.
func (q *Queue) Get(id string) (DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	dl, ok := q.entries[id]
	if !ok {
		return DeadLetter{}, fmt.Errorf("get dead letter %s: %w", id, syncerr.ErrDeadLetterNotFound)
	}
	return dl.Clone(), nil
}

// List returns every dead letter, oldest first.
func (q *Queue) List() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.entries[id].Clone())
	}
	return out
}

// Remove deletes a dead letter (used after a successful manual retry or
// an explicit single-entry clear).
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[id]; !ok {
		return fmt.Errorf("remove dead letter %s: %w", id, syncerr.ErrDeadLetterNotFound)
	}
	delete(q.entries, id)
	q.removeFromOrderLocked(id)
	return nil
}

// Clear empties the queue entirely.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = make(map[string]DeadLetter)
	q.order = nil
}

// Cleanup evicts entries older than cfg.MaxAge as of now, returning the
// number removed.
func (q *Queue) Cleanup(nowMs int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cleanupLocked(nowMs)
}

func (q *Queue) cleanupLocked(nowMs int64) int {
	cutoff := nowMs - q.cfg.MaxAge.Milliseconds()
	removed := 0
	kept := q.order[:0:0]
	for _, id := range q.order {
		dl := q.entries[id]
		if dl.DeadAt < cutoff {
			delete(q.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	return removed
}

func (q *Queue) evictLocked() {
	if q.cfg.MaxEntries <= 0 || len(q.order) <= q.cfg.MaxEntries {
		return
	}
	sort.Slice(q.order, func(i, j int) bool {
		return q.entries[q.order[i]].DeadAt < q.entries[q.order[j]].DeadAt
	})
	overflow := len(q.order) - q.cfg.MaxEntries
	for i := 0; i < overflow; i++ {
		delete(q.entries, q.order[i])
	}
	q.order = q.order[overflow:]
}

func (q *Queue) removeFromOrderLocked(id string) {
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

// Retry builds a fresh Outbox Entry from a dead letter — new id,
// attempts=0, payload copied — for re-enqueue by the caller (§4.G: "Retry
// of a dead letter re-enqueues a fresh outbox entry with attempts=0 and
// copies the payload; success removes the DLQ entry"). The caller is
// responsible for enqueuing the result and, on success, calling Remove.
func (q *Queue) Retry(id string) (outbox.Entry, error) {
	dl, err := q.Get(id)
	if err != nil {
		return outbox.Entry{}, err
	}
	return outbox.Entry{
		Table:     dl.Table,
		RecordID:  dl.RecordID,
		ProjectID: dl.ProjectID,
		Action:    dl.Action,
		Payload:   dl.Payload,
		Status:    outbox.StatusPending,
		Attempts:  0,
	}, nil
}
