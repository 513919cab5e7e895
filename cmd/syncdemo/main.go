// Command syncdemo runs the sync engine against an in-memory Row Store,
// illustrating the full drain/hydrate/realtime loop without a live
// Supabase or Postgres project.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quillwriter/syncengine/internal/config"
	"github.com/quillwriter/syncengine/internal/logging"
	"github.com/quillwriter/syncengine/internal/outbox"
	"github.com/quillwriter/syncengine/internal/rowstore"
	"github.com/quillwriter/syncengine/internal/store"
	"github.com/quillwriter/syncengine/internal/syncengine"
)

func main() {
	addr := flag.String("addr", ":8089", "admin HTTP listen address")
	tick := flag.Duration("tick", 2*time.Second, "Sync Manager drain interval")
	mode := flag.String("mode", "cloud-sync", "initial persistence mode (local-only|cloud-sync|hybrid)")
	backupInterval := flag.Duration("backup-interval", time.Minute, "hybrid-mode periodic backup push interval")
	flag.Parse()

	persistMode, ok := config.ParseMode(*mode)
	if !ok {
		log.Fatalf("invalid -mode %q", *mode)
	}

	logger := logging.NewFromEnv("syncdemo")
	rows := rowstore.NewMemoryStore()

	eng := syncengine.New(syncengine.Options{
		Rows:     rows,
		Realtime: rows,
		Policy:   config.PersistencePolicy{Mode: persistMode, SyncInterval: *tick, BackupInterval: *backupInterval},
		Log:      logger,
	})

	seed(eng)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := eng.BootstrapProject(ctx, demoProjectID); err != nil {
		logger.WithError(err).Warn("syncdemo: bootstrap failed")
	}

	go runTicker(ctx, eng, *tick, logger)

	srv := newAdminServer(*addr, eng)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("syncdemo: admin server failed")
		}
	}()
	logger.WithFields(map[string]any{"addr": *addr}).Info("syncdemo: admin API listening")

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("syncdemo: admin server shutdown error")
	}
	eng.Close()
	os.Exit(0)
}

func runTicker(ctx context.Context, eng *syncengine.Engine, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := eng.Tick(ctx)
			if !result.Skipped {
				logger.WithFields(map[string]any{
					"succeeded": result.Succeeded, "failed": result.Failed,
					"dead_lettered": result.DeadLettered, "deferred": result.Deferred,
				}).Debug("syncdemo: drain tick")
			}
		}
	}
}

const demoProjectID = "demo-project"

// seed populates the local store with one project and one chapter, and
// enqueues both for sync, so the first tick has something to
// drain even before a caller writes anything themselves.
func seed(eng *syncengine.Engine) {
	now := time.Now().UnixMilli()
	_, _ = eng.Local.Put(store.Record{
		ID: demoProjectID, Table: store.TableProjects, UpdatedAt: now,
		Payload: map[string]any{"title": "Untitled Novel"},
	})
	_, _ = eng.Local.Put(store.Record{
		ID: "ch-1", Table: store.TableChapters, ProjectID: demoProjectID, UpdatedAt: now,
		Payload: map[string]any{"title": "Chapter One", "body": ""},
	})
	eng.Outbox.Enqueue(outbox.Entry{
		Table: store.TableProjects, RecordID: demoProjectID, ProjectID: demoProjectID, Action: outbox.ActionUpsert,
	}, now)
	eng.Outbox.Enqueue(outbox.Entry{
		Table: store.TableChapters, RecordID: "ch-1", ProjectID: demoProjectID, Action: outbox.ActionUpsert,
	}, now)
}
