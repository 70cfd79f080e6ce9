// Command statecraftd is the runtime's example hosting process: a Gin HTTP
// server exposing /healthz, /metrics, and a thin admin JSON surface over
// the Manager API, plus one Gorilla-WebSocket bridge that relays the
// core's pub/sub bus to connected browsers. It is not part of the core's
// contract (see internal/manager) — it demonstrates the touch points the
// core exposes, grounded on the teacher's cmd/main.go bootstrap shape:
// load .env, build collaborators, mount routes, wait on a signal, shut
// down with a bounded deadline.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"statecraft/internal/config"
	"statecraft/internal/discovery"
	"statecraft/internal/effects"
	"statecraft/internal/fsm"
	"statecraft/internal/journal"
	"statecraft/internal/logging"
	"statecraft/internal/manager"
	"statecraft/internal/pubsub"
	"statecraft/internal/registry"
	"statecraft/internal/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("WARNING: No .env file found, using environment variables")
		}
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("CRITICAL: invalid configuration: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	logging.Init()
	logger := logging.L()
	defer logging.Sync()

	sink := telemetry.Default(logger)

	bus := buildBus(cfg, logger)
	j := journal.New(cfg.JournalDir, sink)
	attachJournalMirror(cfg, j, logger)

	eng := effects.NewEngine(effects.NewFunctionRegistry(), nil, sink)
	reg := registry.New(bus)
	dir := discovery.New()
	registerBuiltinKinds(dir)

	if cfg.ReloadOnBoot {
		n, err := reg.ReloadFromDisk(cfg.SnapshotDir, dir.All())
		if err != nil {
			logger.Warn("reload_from_disk failed", zap.Error(err))
		} else {
			logger.Info("reload_from_disk complete", zap.Int("restored", n))
		}
	}

	mgr := manager.New(reg, dir, j, bus, eng, sink)

	checkpointer := buildCheckpointer(cfg, logger)

	srv := newServer(cfg, mgr, checkpointer, bus)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("statecraftd listening", zap.String("port", cfg.Port), zap.Bool("production", cfg.IsProduction()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Fatalf("CRITICAL: failed to start statecraftd: %v", err)
	case sig := <-quit:
		logger.Info("received signal, starting graceful shutdown", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	srv.hub.closeAll()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	logger.Info("graceful shutdown complete")
}

// buildBus wires the tenant broadcast bus: Redis when REDIS_URL is set,
// the in-process fan-out fallback otherwise (§6).
func buildBus(cfg *config.Config, logger *zap.Logger) pubsub.Bus {
	if cfg.RedisURL == "" {
		logger.Info("pubsub bus: in-memory fallback (REDIS_URL not set)")
		return pubsub.NewMemoryBus()
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, falling back to in-memory bus", zap.Error(err))
		return pubsub.NewMemoryBus()
	}
	logger.Info("pubsub bus: redis", zap.String("addr", opts.Addr))
	return pubsub.NewRedisBus(redis.NewClient(opts))
}

// attachJournalMirror wires the optional SQL mirror onto the journal when
// DATABASE_URL is set. The URL is always opened through the sqlite
// dialector (the pure-Go modernc.org/sqlite driver) and schema-managed with
// gorm's AutoMigrate; this process never attaches a postgres mirror, whose
// schema cmd/migrate manages.
func attachJournalMirror(cfg *config.Config, j *journal.FileJournal, logger *zap.Logger) {
	if cfg.DatabaseURL == "" {
		return
	}
	db, err := gorm.Open(sqlite.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Warn("journal mirror: failed to open database, continuing without it", zap.Error(err))
		return
	}
	if err := journal.AutoMigrateSQLite(db); err != nil {
		logger.Warn("journal mirror: auto-migrate failed, continuing without it", zap.Error(err))
		return
	}
	j.AttachMirror(journal.NewSQLJournalMirror(db))
	logger.Info("journal mirror attached")
}

// buildCheckpointer wires the optional checkpoint capability (§4.4
// [EXPANDED]) onto either a file-backed or sql-backed store, independent
// of the journal.
func buildCheckpointer(cfg *config.Config, logger *zap.Logger) *fsm.Checkpointer {
	if cfg.CheckpointBackend == "sql" {
		db, err := gorm.Open(sqlite.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			logger.Warn("checkpoint store: failed to open database, falling back to file store", zap.Error(err))
		} else {
			store := fsm.NewSQLCheckpointStore(db)
			if err := store.AutoMigrate(); err != nil {
				logger.Warn("checkpoint store: auto-migrate failed, falling back to file store", zap.Error(err))
			} else {
				return fsm.NewCheckpointer(store)
			}
		}
	}
	return fsm.NewCheckpointer(fsm.NewFileCheckpointStore(cfg.CheckpointDir))
}
