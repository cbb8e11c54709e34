// Package main is the entry point for the Pulsekit calibration-override
// experiment service. It submits pulse-level experiments to an execution
// backend, persists raw result bundles, and serves stability verdicts over
// a REST API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solitonlabs/pulsekit/internal/clients/localsim"
	"github.com/solitonlabs/pulsekit/internal/clients/qbackend"
	"github.com/solitonlabs/pulsekit/internal/config"
	"github.com/solitonlabs/pulsekit/internal/database"
	"github.com/solitonlabs/pulsekit/internal/domain"
	"github.com/solitonlabs/pulsekit/internal/modules/experiment"
	"github.com/solitonlabs/pulsekit/internal/modules/fitting"
	"github.com/solitonlabs/pulsekit/internal/modules/stability"
	"github.com/solitonlabs/pulsekit/internal/pipeline"
	"github.com/solitonlabs/pulsekit/internal/resultstore"
	"github.com/solitonlabs/pulsekit/internal/scheduler"
	"github.com/solitonlabs/pulsekit/internal/server"
	"github.com/solitonlabs/pulsekit/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().Msg("Starting Pulsekit")

	// Results database holds the job ledger and raw result bundles.
	db, err := database.New(database.Config{
		Path:    cfg.DataDir + "/results.db",
		Profile: database.ProfileResults,
		Name:    "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open results database")
	}
	defer db.Close()

	store, err := resultstore.NewRepository(db.Conn())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize result store")
	}

	// Execution backend: the in-process simulator in dev mode, the remote
	// REST backend otherwise.
	var backend domain.BackendClient
	if cfg.DevMode {
		backend = localsim.New(log)
		log.Info().Msg("Dev mode: using in-process simulator backend")
	} else {
		backend = qbackend.NewClient(cfg.BackendURL, log)
		log.Info().Str("url", cfg.BackendURL).Msg("Using remote execution backend")
	}

	engine := stability.NewEngine(stability.Thresholds{
		DecayRate: cfg.DecayRateThreshold,
		SSE:       cfg.SSEThreshold,
	})

	fitOpts := fitting.DefaultOptions()
	fitOpts.PlateauWindow = cfg.PlateauWindow
	fitOpts.PlateauTolerance = cfg.PlateauTolerance

	runner := pipeline.NewRunner(
		backend,
		experiment.NewBuilder(log),
		engine,
		store,
		fitOpts,
		pipeline.Config{
			Shots:          cfg.Shots,
			PollInterval:   cfg.PollInterval,
			ResultTimeout:  cfg.ResultTimeout,
			RetryAttempts:  uint(cfg.RetryAttempts),
			RetryBaseDelay: cfg.RetryBaseDelay,
		},
		log,
	)

	// Optional websocket status stream: completed handles are pulled in
	// immediately instead of waiting for the next cron sweep.
	var statusStream *qbackend.StatusStream
	if cfg.BackendWSURL != "" {
		statusStream = qbackend.NewStatusStream(cfg.BackendWSURL, func(ev qbackend.StatusEvent) {
			if err := store.UpdateStatus(ev.Handle, ev.Status); err != nil {
				log.Debug().Str("handle", string(ev.Handle)).Err(err).Msg("Status event for unknown job")
				return
			}
			if ev.Status == domain.JobStatusDone {
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), cfg.ResultTimeout)
					defer cancel()
					if _, err := runner.Await(ctx, ev.Handle); err != nil {
						log.Warn().Str("handle", string(ev.Handle)).Err(err).Msg("Result collection after status event failed")
					}
				}()
			}
		}, log)
		statusStream.Start()
		log.Info().Str("url", cfg.BackendWSURL).Msg("Backend status stream started")
	}

	// Cron scheduler sweeps pending jobs so results survive restarts.
	sched := scheduler.New(log)
	syncJob := scheduler.NewResultSyncJob(store, backend, cfg.ResultTimeout, log)
	if err := sched.AddJob(cfg.SyncSchedule, syncJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to register result sync job")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:     log,
		Config:  cfg,
		DB:      db,
		Runner:  runner,
		Store:   store,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	if statusStream != nil {
		statusStream.Stop()
		log.Info().Msg("Status stream stopped")
	}

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
