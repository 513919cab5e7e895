// Package syncmanager implements the Sync Manager (component L): a
// periodic drain loop over the Outbox, executed under the Circuit
// Breaker and Retry Budget, classifying failures and escalating
// permanently-failed entries to the Dead-Letter Queue (§4.L).
package syncmanager

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quillwriter/syncengine/internal/config"
	"github.com/quillwriter/syncengine/internal/deadletter"
	"github.com/quillwriter/syncengine/internal/encoder"
	"github.com/quillwriter/syncengine/internal/logging"
	"github.com/quillwriter/syncengine/internal/outbox"
	"github.com/quillwriter/syncengine/internal/resilience"
	"github.com/quillwriter/syncengine/internal/rowstore"
	"github.com/quillwriter/syncengine/internal/stats"
	"github.com/quillwriter/syncengine/internal/store"
)

const (
	defaultTickInterval = 5 * time.Second
	defaultBatchSize    = 20
	defaultMaxAttempts  = 5
)

// classifiable is implemented by Row Store errors that already carry
// enough context to classify without guessing (§4.C); unrecognized
// errors fall back to a conservative NETWORK classification.
type classifiable interface {
	Classify() resilience.Failure
}

// Options configures a Manager. Zero values fall back to spec defaults.
type Options struct {
	TickInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BackoffCfg   resilience.BackoffConfig

	// Mode, Authenticated, Offline gate whether a tick runs at all
	// (§4.L step 1). Mode defaults to always-active if nil.
	Mode          func() config.Mode
	Authenticated func() bool
	Offline       func() bool

	Now func() int64
	Log *logging.Logger
}

// Manager is the Sync Manager.
type Manager struct {
	outbox  *outbox.Outbox
	rows    rowstore.RowStore
	enc     *encoder.Encoder
	local   *store.Store
	breaker *resilience.CircuitBreaker
	budget  *resilience.RetryBudget
	dlq     *deadletter.Queue
	stats   *stats.Stats

	tickInterval time.Duration
	batchSize    int
	maxAttempts  int
	backoffCfg   resilience.BackoffConfig

	mode          func() config.Mode
	authenticated func() bool
	offline       func() bool
	now           func() int64
	log           *logging.Logger

	draining int32 // reentrancy guard, §9 "boolean owned by the manager"
}

// New constructs a Manager wiring the outbox, row store, encoder, local
// store, and the shared resilience singletons (breaker/budget/dlq/stats)
// per §9's "RecoveryContext threaded through" note.
func New(ob *outbox.Outbox, rows rowstore.RowStore, enc *encoder.Encoder, local *store.Store,
	breaker *resilience.CircuitBreaker, budget *resilience.RetryBudget, dlq *deadletter.Queue, st *stats.Stats,
	opts Options) *Manager {

	tickInterval := opts.TickInterval
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	mode := opts.Mode
	if mode == nil {
		mode = func() config.Mode { return config.ModeCloudSync }
	}
	authenticated := opts.Authenticated
	if authenticated == nil {
		authenticated = func() bool { return true }
	}
	offline := opts.Offline
	if offline == nil {
		offline = func() bool { return false }
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}

	return &Manager{
		outbox: ob, rows: rows, enc: enc, local: local,
		breaker: breaker, budget: budget, dlq: dlq, stats: st,
		tickInterval: tickInterval, batchSize: batchSize, maxAttempts: maxAttempts,
		backoffCfg: opts.BackoffCfg, mode: mode, authenticated: authenticated, offline: offline,
		now: now, log: log,
	}
}

// TickInterval returns the configured drain period, for callers driving
// their own ticker (e.g. cmd/syncdemo, robfig/cron/v3 schedules).
func (m *Manager) TickInterval() time.Duration { return m.tickInterval }

// DrainResult summarizes one Tick invocation.
type DrainResult struct {
	Skipped       bool // gating check failed or reentrant tick
	Succeeded     int
	Failed        int
	DeadLettered  int
	Deferred      int
	NextBatchGap  time.Duration // largest scheduled delay this tick produced
}

// Tick runs one drain cycle (§4.L). It is safe to call repeatedly from a
// timer; a second call while one is in flight returns immediately with
// Skipped=true (§9 reentrancy guard).
func (m *Manager) Tick(ctx context.Context) DrainResult {
	if !atomic.CompareAndSwapInt32(&m.draining, 0, 1) {
		return DrainResult{Skipped: true}
	}
	defer atomic.StoreInt32(&m.draining, 0)

	if m.offline() || !m.authenticated() || !m.mode().OutboxActive() {
		return DrainResult{Skipped: true}
	}

	owner := uuid.NewString()
	nowMs := m.now()
	entries := m.outbox.Peek(m.batchSize, nowMs)

	var result DrainResult
	for _, entry := range entries {
		if m.breaker.State() == resilience.StateOpen {
			break
		}
		if !m.budget.CanRetry() && entry.Attempts > 0 {
			m.stats.RecordRetryBudgetExhaustion()
			result.Deferred++
			continue
		}

		if err := m.outbox.MarkSyncing([]string{entry.ID}, owner, nowMs); err != nil {
			continue
		}

		attemptNumber := entry.Attempts + 1

		// sendErr carries the real outcome of m.send; the closure only
		// reports a non-nil error to the breaker for categories that
		// should count toward its trip threshold (§8 S2: auth/client
		// errors are the caller's fault, not the remote's, and must not
		// trip the breaker).
		var sendErr error
		execErr := m.breaker.Execute(ctx, func() error {
			sendErr = m.send(ctx, entry)
			if sendErr != nil && !m.classify(sendErr).IsRetryable {
				return nil
			}
			return sendErr
		})

		if execErr == nil && sendErr == nil {
			_ = m.outbox.MarkSuccess(entry.ID, m.now())
			m.stats.RecordSuccess(entry.Attempts, lastDelayMs(entry))
			result.Succeeded++
			continue
		}

		finalErr := sendErr
		if finalErr == nil {
			finalErr = execErr // breaker-level error, e.g. circuit open
		}
		classified := m.classify(finalErr)
		m.stats.RecordFailure(classified.Category)
		m.budget.RecordRetry()

		history := outbox.AttemptRecord{
			AttemptNumber: attemptNumber,
			ErrorMessage:  finalErr.Error(),
			ErrorCategory: string(classified.Category),
			Timestamp:     m.now(),
		}

		if !classified.IsRetryable || attemptNumber >= m.maxAttempts {
			m.deadLetter(entry, history)
			result.DeadLettered++
			continue
		}

		delay := resilience.Delay(attemptNumber, classified, m.backoffCfg)
		history.DelayMs = delay.Milliseconds()
		_ = m.outbox.MarkFailed(entry.ID, history, m.now()+delay.Milliseconds(), m.now())
		result.Failed++
		if delay > result.NextBatchGap {
			result.NextBatchGap = delay
		}
	}

	return result
}

// send builds the remote row for entry and upserts it. A record that is
// not in the Local Store is rebuilt from the entry's own payload snapshot
// and sent anyway, rather than failing the entry.
func (m *Manager) send(ctx context.Context, entry outbox.Entry) error {
	rec, err := m.local.Get(entry.Table, entry.RecordID)
	if err != nil {
		rec = store.Record{ID: entry.RecordID, Table: entry.Table, ProjectID: entry.ProjectID, Payload: entry.Payload}
	}

	row, err := m.enc.Encode(rec)
	if err != nil {
		return err
	}
	return m.rows.Upsert(ctx, string(entry.Table), row, encoder.OnConflictColumn(entry.Table))
}

func (m *Manager) classify(err error) resilience.Classified {
	if c, ok := err.(classifiable); ok {
		return resilience.Classify(c.Classify())
	}
	return resilience.Classify(resilience.Failure{NetworkError: true, OriginalError: err})
}

func (m *Manager) deadLetter(entry outbox.Entry, history outbox.AttemptRecord) {
	dl := deadletter.DeadLetter{
		Table:          entry.Table,
		RecordID:       entry.RecordID,
		ProjectID:      entry.ProjectID,
		Action:         entry.Action,
		Payload:        entry.Payload,
		FinalError:     history.ErrorMessage,
		AttemptHistory: append(append([]outbox.AttemptRecord(nil), entry.AttemptHistory...), history),
	}
	m.dlq.Add(dl, m.now())
	m.stats.RecordDeadLetter()
	_, _ = m.outbox.Remove(entry.ID)
}

func lastDelayMs(entry outbox.Entry) int64 {
	if len(entry.AttemptHistory) == 0 {
		return 0
	}
	return entry.AttemptHistory[len(entry.AttemptHistory)-1].DelayMs
}

// BackupPush enqueues every record currently in the Local Store
// (including tombstones) as a fresh Outbox entry, regardless of whether
// it already synced. Hybrid mode relies on this for its periodic full
// resync instead of the continuous realtime-triggered merge §4.N
// reserves for cloud-sync (see internal/realtime's Mode gate). Returns
// the number of entries enqueued.
func (m *Manager) BackupPush(ctx context.Context) int {
	count := 0
	for _, rec := range m.local.Snapshot() {
		action := outbox.ActionUpsert
		if rec.IsTombstone() {
			action = outbox.ActionDelete
		}
		m.outbox.Enqueue(outbox.Entry{
			Table:     rec.Table,
			RecordID:  rec.ID,
			ProjectID: rec.ProjectID,
			Action:    action,
			Payload:   rec.Payload,
		}, m.now())
		count++
	}
	return count
}

// RetryDeadLetter re-enqueues dlq entry id as a fresh Outbox entry with
// attempts=0 (§4.G) and removes it from the queue on success.
func (m *Manager) RetryDeadLetter(id string) (string, error) {
	fresh, err := m.dlq.Retry(id)
	if err != nil {
		return "", err
	}
	newID := m.outbox.Enqueue(fresh, m.now())
	_ = m.dlq.Remove(id)
	return newID, nil
}
