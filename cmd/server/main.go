// Package main is the entry point of the autopublish server.
// It runs per-profile publishing workers that turn ticker lists into
// analysis posts on WordPress sites, and serves the dashboard API with
// live progress streams.
//
// The application follows the same layering everywhere:
// - Domain types and errors have no infrastructure dependencies
// - Dependency injection via the DI container
// - Repository pattern for data access
// - HTTP handlers for API endpoints
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/autopublish/internal/config"
	"github.com/aristath/autopublish/internal/di"
	"github.com/aristath/autopublish/internal/server"
	"github.com/aristath/autopublish/pkg/logger"
)

// shutdownTimeout bounds how long in-flight requests and workers get to finish
const shutdownTimeout = 30 * time.Second

// main orchestrates startup:
// 1. Loads configuration from the environment (.env supported)
// 2. Initializes logging
// 3. Wires databases, repositories, services and maintenance jobs
// 4. Parks or resumes runs a previous process left unfinished
// 5. Starts the scheduler and the HTTP server
// 6. Waits for a shutdown signal and stops everything in reverse order
//
// Two databases are used:
// - publishing.db: profiles, run states, quota counters, dedup fingerprints
// - ledger.db: append-only ticker results
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("version", server.Version).Msg("Starting autopublish")

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	// All databases must be closed so WAL checkpoints are written
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	// Runs left queued or running by a crash are never lost: they are parked
	// as paused, or picked up again when auto-resume is enabled
	recovered, err := container.Controller.RecoverInterrupted(cfg.Publishing.AutoResumeInterrupted)
	if err != nil {
		log.Error().Err(err).Msg("Failed to recover interrupted runs")
	} else if recovered > 0 {
		log.Warn().
			Int("runs", recovered).
			Bool("auto_resume", cfg.Publishing.AutoResumeInterrupted).
			Msg("Recovered interrupted runs")
	}

	container.Scheduler.Start()
	log.Info().
		Bool("archive", jobs.Archive != nil).
		Int("retention_days", cfg.Maintenance.RetentionDays).
		Msg("Scheduler started")

	srv := server.New(server.Config{
		StartedAt:      time.Now(),
		Log:            log,
		Config:         cfg,
		Container:      container,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first so no new runs start while workers wind down
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Workers stop at their next checkpoint and park their runs as paused
	if err := container.Controller.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Workers did not stop in time")
	}

	container.Scheduler.Stop()
	log.Info().Msg("Server stopped")
}
