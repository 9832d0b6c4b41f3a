// Command mementod runs the memory daemon: the HTTP/hook surface, the
// leased job-queue worker pool, and the periodic checkpoint/retention
// sweepers, wired against either the SQLite or Postgres store backend
// (spec.md §3 "storage backend is pluggable"). Grounded on
// cmd/memento-web/main.go's wiring shape — load config, open storage,
// build the engine, start the server, wait for a signal, shut down in
// reverse order — generalized from the teacher's single in-process
// enrichment engine to this daemon's store/queue/pipeline/recall/session
// split.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/memento-core/daemon/internal/auth"
	"github.com/memento-core/daemon/internal/backup"
	"github.com/memento-core/daemon/internal/config"
	"github.com/memento-core/daemon/internal/diagnostics"
	"github.com/memento-core/daemon/internal/jobqueue"
	"github.com/memento-core/daemon/internal/llm"
	"github.com/memento-core/daemon/internal/pipeline"
	"github.com/memento-core/daemon/internal/recall"
	"github.com/memento-core/daemon/internal/server"
	"github.com/memento-core/daemon/internal/session"
	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/internal/store/postgres"
	"github.com/memento-core/daemon/internal/store/sqlite"
)

// backend bundles the three interfaces every storage engine this daemon
// supports must satisfy, plus a raw *sql.DB for the health scorers' and
// the backup service's direct queries.
type backend struct {
	store.MemoryStore
	store.JobQueue
	store.SessionStore
	db    *sql.DB
	close func() error
}

func openBackend(cfg config.StorageConfig) (*backend, error) {
	switch cfg.StorageEngine {
	case "postgres":
		dsn := os.Getenv("MEMENTO_POSTGRES_DSN")
		if dsn == "" {
			return nil, fmt.Errorf("MEMENTO_POSTGRES_DSN must be set when storage engine is postgres")
		}
		st, err := postgres.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return &backend{MemoryStore: st, JobQueue: st, SessionStore: st, db: st.DB(), close: st.Close}, nil
	case "sqlite", "":
		if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		dsn := cfg.DataPath + "/memento.db"
		st, err := sqlite.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return &backend{MemoryStore: st, JobQueue: st, SessionStore: st, db: st.DB(), close: st.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported storage engine: %q", cfg.StorageEngine)
	}
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("mementod: failed to load config: %v", err)
	}

	be, err := openBackend(cfg.Storage)
	if err != nil {
		log.Fatalf("mementod: failed to open storage: %v", err)
	}
	defer be.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := diagnostics.NewCollector()
	registerHealthScorers(collector, be)

	generator, err := llm.NewTextGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("mementod: failed to build text generator: %v", err)
	}
	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		log.Fatalf("mementod: failed to build embedding generator: %v", err)
	}
	genBreaker := llm.NewCircuitBreaker()
	embBreaker := llm.NewCircuitBreaker()

	memoryDir := cfg.Storage.DataPath + "/memories"
	pipe := pipeline.New(be.MemoryStore, be.SessionStore, be.JobQueue, generator, embedder, genBreaker, embBreaker, memoryDir)
	pool := jobqueue.NewPool(be.JobQueue, pipe, jobqueue.Config{})
	pool.Start(ctx)

	recallEngine := recall.New(be.MemoryStore, embedder, embBreaker)
	sessionMgr := session.New(be.SessionStore, be.MemoryStore, be.JobQueue)

	mode := auth.Mode(cfg.Security.AuthMode)
	if !auth.IsValidMode(mode) {
		mode = auth.ModeLocal
	}
	policy := auth.NewPolicy(mode, cfg.Security.APIToken, nil)

	srv := server.New(server.Deps{
		Config:      cfg,
		Store:       be.MemoryStore,
		Queue:       be.JobQueue,
		Recall:      recallEngine,
		Session:     sessionMgr,
		Diagnostics: collector,
		Policy:      policy,
	})

	addr, err := srv.Start(ctx)
	if err != nil {
		log.Fatalf("mementod: failed to start server: %v", err)
	}
	log.Printf("mementod: listening on %s", addr)

	stopRetention := startRetentionSweeper(ctx, be.MemoryStore, sessionMgr)
	defer stopRetention()

	var backupSvc *backup.BackupService
	if cfg.Backup.BackupEnabled && cfg.Storage.StorageEngine != "postgres" {
		backupSvc, err = backup.NewBackupService(backup.BackupConfig{
			DBPath:        cfg.Storage.DataPath + "/memento.db",
			BackupDir:     cfg.Backup.BackupPath,
			Interval:      parseBackupInterval(cfg.Backup.BackupInterval),
			VerifyBackups: cfg.Backup.BackupVerify,
			Retention: backup.RetentionPolicy{
				Hourly:  cfg.Backup.BackupRetentionHourly,
				Daily:   cfg.Backup.BackupRetentionDaily,
				Weekly:  cfg.Backup.BackupRetentionWeekly,
				Monthly: cfg.Backup.BackupRetentionMonthly,
			},
		})
		if err != nil {
			log.Printf("mementod: backup service disabled: %v", err)
		} else if err := backupSvc.Start(ctx); err != nil {
			log.Printf("mementod: backup service failed to start: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("mementod: shutting down gracefully...")
	if backupSvc != nil {
		if err := backupSvc.Stop(); err != nil {
			log.Printf("mementod: backup service shutdown error: %v", err)
		}
	}
	if err := pool.Stop(ctx); err != nil {
		log.Printf("mementod: worker pool shutdown error: %v", err)
	}
	cancel()
	time.Sleep(500 * time.Millisecond)
}

// defaultBackupInterval is used when BackupInterval is unset or fails to
// parse as a duration.
const defaultBackupInterval = time.Hour

func parseBackupInterval(s string) time.Duration {
	if s == "" {
		return defaultBackupInterval
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Printf("mementod: invalid backup interval %q, defaulting to 1h: %v", s, err)
		return defaultBackupInterval
	}
	return d
}

// retentionInterval is how often the daemon sweeps soft-deleted memories
// past their retention window and prunes stale session checkpoints
// (spec.md §4.1 "retention sweep", §4.4 "pruning").
const retentionInterval = 1 * time.Hour

// retentionBatchLimit caps how many rows one sweep pass purges, so a
// large backlog doesn't hold the store's write lock for an extended
// stretch (spec.md §4.1 "batched background sweep").
const retentionBatchLimit = 500

func startRetentionSweeper(ctx context.Context, st store.MemoryStore, sessionMgr *session.Manager) func() {
	ticker := time.NewTicker(retentionInterval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if stats, err := st.PurgeRetention(ctx, retentionBatchLimit); err != nil {
					log.Printf("mementod: retention sweep failed: %v", err)
				} else if stats.MemoriesDeleted > 0 || stats.HistoryDeleted > 0 {
					log.Printf("mementod: retention swept %d memories, %d history rows", stats.MemoriesDeleted, stats.HistoryDeleted)
				}
				if n, err := sessionMgr.Prune(ctx); err != nil {
					log.Printf("mementod: checkpoint prune failed: %v", err)
				} else if n > 0 {
					log.Printf("mementod: pruned %d stale checkpoints", n)
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() { close(done) }
}
