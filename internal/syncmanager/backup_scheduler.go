package syncmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/quillwriter/syncengine/internal/config"
)

// BackupScheduler drives Manager.BackupPush on a cron schedule, the
// hybrid-mode "periodic backup push" §4.N requires in place of J's
// continuous realtime merge. It wraps github.com/robfig/cron/v3, in the
// manner of the teacher's own cron-scheduled background jobs.
type BackupScheduler struct {
	cron *cron.Cron
	mgr  *Manager
}

// NewBackupScheduler builds a scheduler that fires BackupPush every
// interval, but only while the Manager's current mode is hybrid — a mode
// switch away from hybrid simply makes each tick a no-op rather than
// stopping and restarting the cron job. interval <= 0 falls back to the
// spec's hourly default (§3 backupIntervalMs).
func NewBackupScheduler(mgr *Manager, interval time.Duration) *BackupScheduler {
	if interval <= 0 {
		interval = time.Hour
	}

	s := &BackupScheduler{cron: cron.New(), mgr: mgr}
	_, _ = s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.runOnce)
	return s
}

// runOnce is the cron job body, split out so tests can invoke it directly
// instead of waiting on cron's real-time (minimum one-second) schedule.
func (s *BackupScheduler) runOnce() {
	if s.mgr.mode() != config.ModeHybrid {
		return
	}
	s.mgr.BackupPush(context.Background())
}

// Start begins firing the schedule in a background goroutine owned by
// the underlying cron.Cron.
func (s *BackupScheduler) Start() { s.cron.Start() }

// Stop cancels the schedule and blocks until any in-flight run finishes.
func (s *BackupScheduler) Stop() { <-s.cron.Stop().Done() }
