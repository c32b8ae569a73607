// Package main is the entry point for the AMATS state service.
// It loads configuration, connects the trade history and strategy state store, schedules
// maintenance jobs for the local backend and serves the diagnostics API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/amats/amats/internal/backup"
	"github.com/amats/amats/internal/config"
	"github.com/amats/amats/internal/database"
	"github.com/amats/amats/internal/docstore"
	"github.com/amats/amats/internal/events"
	"github.com/amats/amats/internal/metrics"
	"github.com/amats/amats/internal/scheduler"
	"github.com/amats/amats/internal/server"
	"github.com/amats/amats/internal/statestore"
	"github.com/amats/amats/pkg/logger"
)

func main() {
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	// Fallback logger until the configured one exists
	bootLog := logger.New(logger.Config{Level: "info", Pretty: true})

	cfg, err := config.Load(bootLog)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if *printConfig {
		cfg.WriteTable(os.Stdout)
		return
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Pretty: true,
		File:   cfg.Logging.File,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("backend", cfg.Store.Backend).
		Str("collection", cfg.Store.RootCollection).
		Msg("Starting AMATS state service")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	storeMetrics := metrics.NewStoreMetrics(registry)
	eventBus := events.NewBus(log)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := statestore.Open(initCtx, cfg.Store, log, statestore.WithMetrics(storeMetrics), statestore.WithEvents(eventBus))
	initCancel()
	if err != nil {
		if !cfg.Server.AllowDegraded {
			log.Fatal().Err(err).Msg("Failed to initialize state store")
		}
		log.Error().Err(err).Msg("State store unavailable, serving diagnostics in degraded mode")
	}
	defer store.Close()

	// Maintenance only applies to the local backend
	var db *database.DB
	if sqliteBackend, ok := store.Backend().(*docstore.SQLiteBackend); ok {
		db = sqliteBackend.Database()
	}

	sched := scheduler.New(log)
	if db != nil {
		registerMaintenanceJobs(sched, cfg, db, log)
	}
	sched.Start()
	defer sched.Stop()

	srv := server.New(server.Config{
		Log:      log,
		Config:   cfg,
		Store:    store,
		Database: db,
		Gatherer: registry,
		Events:   eventBus,
		Port:     cfg.Server.Port,
		DevMode:  cfg.Server.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Server.Port).Msg("Server started successfully")

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	server.NewStatusMonitor(eventBus, store, cfg.Store.Backend, log).Start(monitorCtx, time.Minute)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	stopMonitor()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

type scheduledJob struct {
	schedule string
	job      scheduler.Job
}

// registerMaintenanceJobs schedules integrity checks, WAL checkpoints and, when a bucket is
// configured, snapshot uploads for the local store database.
func registerMaintenanceJobs(sched *scheduler.Scheduler, cfg *config.Config, db *database.DB, log zerolog.Logger) {
	jobs := []scheduledJob{
		{"0 0 4 * * *", scheduler.NewCheckStoreDatabaseJob(db, log)},
		{"0 */15 * * * *", scheduler.NewCheckWALCheckpointsJob(db, log)},
	}

	if cfg.Backup.Enabled() {
		uploader, err := backup.NewUploader(context.Background(), cfg.Backup)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create backup uploader, snapshots disabled")
		} else {
			jobs = append(jobs, scheduledJob{cfg.Backup.Schedule, backup.NewSnapshotJob(backup.SnapshotJobConfig{
				Log:      log,
				DB:       db,
				Uploader: uploader,
				Bucket:   cfg.Backup.Bucket,
				Prefix:   cfg.Backup.Prefix,
			})})
		}
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			log.Error().Err(err).Str("job", j.job.Name()).Msg("Failed to schedule job")
		}
	}
}
