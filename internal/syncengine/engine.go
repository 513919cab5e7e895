// Package syncengine wires components A-N into a single constructible
// unit: the Local Store, Outbox, Error Classifier, Backoff Strategy,
// Circuit Breaker, Retry Budget, Dead-Letter Queue, Recovery Stats,
// Upsert Encoder, Hydration Service, Realtime Router, Sync Manager,
// E2EE Key Manager, and Persistence Policy, matching the assembly a
// caller (cmd/syncdemo, cmd/syncctl) would otherwise have to repeat by
// hand.
package syncengine

import (
	"context"
	"sync"

	"github.com/quillwriter/syncengine/internal/config"
	"github.com/quillwriter/syncengine/internal/cryptobox"
	"github.com/quillwriter/syncengine/internal/deadletter"
	"github.com/quillwriter/syncengine/internal/encoder"
	"github.com/quillwriter/syncengine/internal/hydration"
	"github.com/quillwriter/syncengine/internal/logging"
	"github.com/quillwriter/syncengine/internal/outbox"
	"github.com/quillwriter/syncengine/internal/realtime"
	"github.com/quillwriter/syncengine/internal/resilience"
	"github.com/quillwriter/syncengine/internal/rowstore"
	"github.com/quillwriter/syncengine/internal/stats"
	"github.com/quillwriter/syncengine/internal/store"
	"github.com/quillwriter/syncengine/internal/syncmanager"
)

// Options configures Engine construction. Only Rows is required; every
// other field falls back to the spec's stated defaults.
type Options struct {
	Rows rowstore.RowStore

	// Realtime is optional. A nil Realtime leaves the Engine without a
	// Realtime Router (e.g. a Row Store that has no LISTEN/NOTIFY-style
	// transport).
	Realtime rowstore.RealtimeSource

	LocalQuota int // maximum number of live records; 0 means unlimited (§4.A)

	Policy config.PersistencePolicy

	Backoff      resilience.BackoffConfig
	Breaker      resilience.CircuitBreakerConfig
	RetryBudget  resilience.RetryBudgetConfig
	DeadLetter   deadletter.Config
	ManagerOpts  syncmanager.Options
	RealtimeOpts realtime.Options
	Cipher       cryptobox.Cipher

	Log *logging.Logger
}

// Engine is the assembled sync engine: every component wired together
// behind a small facade surface a caller drives directly (Put/Delete/Get
// against Local, Tick against the Sync Manager, SubscribeToProject
// against Realtime) rather than reaching into each package itself.
type Engine struct {
	Local     *store.Store
	Outbox    *outbox.Outbox
	Breaker   *resilience.CircuitBreaker
	Budget    *resilience.RetryBudget
	DeadQueue *deadletter.Queue
	Stats     *stats.Stats
	Keys      *cryptobox.KeyManager
	Encoder   *encoder.Encoder
	Hydrator  *hydration.Service
	Realtime  *realtime.Router
	Manager   *syncmanager.Manager
	Backup    *syncmanager.BackupScheduler

	rows rowstore.RowStore
	log  *logging.Logger

	policyMu sync.RWMutex
	policy   config.PersistencePolicy
}

// New assembles every component per opts. Rows must be non-nil; all
// other fields are optional.
func New(opts Options) *Engine {
	log := opts.Log
	if log == nil {
		log = logging.Default()
	}

	policy := opts.Policy
	if policy.Mode == "" {
		policy = config.DefaultPersistencePolicy()
	}

	local := store.New(opts.LocalQuota)
	ob := outbox.New()
	st := stats.New()

	breakerCfg := opts.Breaker
	userOnStateChange := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(from, to resilience.State) {
		if to == resilience.StateOpen {
			st.RecordCircuitBreakerTrip()
		}
		if userOnStateChange != nil {
			userOnStateChange(from, to)
		}
	}
	breaker := resilience.New(breakerCfg)
	budget := resilience.NewRetryBudget(opts.RetryBudget)
	dlq := deadletter.New(opts.DeadLetter)
	keys := cryptobox.NewKeyManager(opts.Cipher)
	enc := encoder.New(keys)
	hydrator := hydration.New(opts.Rows, local, keys, log)

	eng := &Engine{
		Local:     local,
		Outbox:    ob,
		Breaker:   breaker,
		Budget:    budget,
		DeadQueue: dlq,
		Stats:     st,
		Keys:      keys,
		Encoder:   enc,
		Hydrator:  hydrator,
		rows:      opts.Rows,
		policy:    policy,
		log:       log,
	}

	managerOpts := opts.ManagerOpts
	managerOpts.BackoffCfg = nonZeroBackoff(opts.Backoff)
	managerOpts.Log = log
	managerOpts.Mode = eng.Mode

	eng.Manager = syncmanager.New(ob, opts.Rows, enc, local, breaker, budget, dlq, st, managerOpts)
	eng.Backup = syncmanager.NewBackupScheduler(eng.Manager, policy.BackupInterval)
	eng.Backup.Start()

	if opts.Realtime != nil {
		realtimeOpts := opts.RealtimeOpts
		realtimeOpts.Log = log
		realtimeOpts.Mode = eng.Mode
		eng.Realtime = realtime.New(opts.Realtime, hydrator, local, realtimeOpts)
	}

	return eng
}

func nonZeroBackoff(c resilience.BackoffConfig) resilience.BackoffConfig {
	if c.BaseDelay <= 0 {
		return resilience.DefaultBackoffConfig()
	}
	return c
}

// Mode reports the engine's current persistence mode (§4.N).
func (e *Engine) Mode() config.Mode {
	e.policyMu.RLock()
	defer e.policyMu.RUnlock()
	return e.policy.Mode
}

// SetMode switches the engine's persistence mode, taking effect on the
// Sync Manager's next tick (§4.N: "mode switches apply on the next
// tick, in-flight syncs run to completion").
func (e *Engine) SetMode(mode config.Mode) {
	e.policyMu.Lock()
	defer e.policyMu.Unlock()
	e.policy.Mode = mode
}

// BootstrapProject performs the Hydration Service's bootstrap path for
// a freshly opened project (§4.J BootstrapProject), then — if a
// Realtime Router is configured — subscribes to live changes for it.
func (e *Engine) BootstrapProject(ctx context.Context, projectID string) (hydration.BootstrapResult, error) {
	result, err := e.Hydrator.BootstrapProject(ctx, projectID)
	if err != nil {
		return result, err
	}
	if e.Realtime != nil {
		if subErr := e.Realtime.SubscribeToProject(ctx, projectID, store.Tables); subErr != nil {
			e.log.WithError(subErr).WithFields(map[string]any{"project_id": projectID}).
				Warn("syncengine: realtime subscribe failed during bootstrap")
		}
	}
	return result, nil
}

// CloseProject tears down a project's realtime subscription, e.g. when
// the writer closes it in the UI.
func (e *Engine) CloseProject(projectID string) {
	if e.Realtime != nil {
		e.Realtime.UnsubscribeFromProject(projectID)
	}
}

// Tick runs one Sync Manager drain cycle (§4.L).
func (e *Engine) Tick(ctx context.Context) syncmanager.DrainResult {
	return e.Manager.Tick(ctx)
}

// Close stops background schedulers owned by the Engine (currently just
// the hybrid-mode backup scheduler). It does not touch the Row Store or
// any open Realtime subscriptions — callers still own those.
func (e *Engine) Close() {
	e.Backup.Stop()
}
