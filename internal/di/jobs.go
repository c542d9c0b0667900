package di

import (
	"context"
	"fmt"

	"github.com/aristath/autopublish/internal/clientdata"
	"github.com/aristath/autopublish/internal/config"
	"github.com/aristath/autopublish/internal/reliability"
	"github.com/rs/zerolog"
)

const (
	// walCheckpointSchedule runs the WAL job at the top of every hour
	walCheckpointSchedule = "0 0 * * * *"
	// priceCacheCleanupSchedule runs five minutes past every hour
	priceCacheCleanupSchedule = "0 5 * * * *"
)

// JobInstances holds the registered maintenance jobs.
// Archive is nil when archiving is disabled.
type JobInstances struct {
	Archive           *reliability.ResultArchiver
	Retention         *reliability.RetentionJob
	WALCheckpoint     *reliability.WALCheckpointJob
	PriceCacheCleanup *clientdata.CleanupJob
}

// RegisterJobs creates the maintenance jobs and adds them to the scheduler
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*JobInstances, error) {
	if container.Scheduler == nil {
		return nil, fmt.Errorf("scheduler must be initialized first")
	}
	jobs := &JobInstances{}

	jobs.Retention = reliability.NewRetentionJob(cfg.Maintenance.RetentionDays, map[string]reliability.DayPruner{
		"quota_counters":         container.QuotaGuard,
		"published_fingerprints": container.DedupDetector,
	}, log)
	if err := container.Scheduler.AddJob(cfg.Maintenance.CleanupSchedule, jobs.Retention); err != nil {
		return nil, fmt.Errorf("failed to register retention job: %w", err)
	}

	jobs.WALCheckpoint = reliability.NewWALCheckpointJob(container.Databases(), log)
	if err := container.Scheduler.AddJob(walCheckpointSchedule, jobs.WALCheckpoint); err != nil {
		return nil, fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}

	jobs.PriceCacheCleanup = clientdata.NewCleanupJob(container.PriceCache, log)
	if err := container.Scheduler.AddJob(priceCacheCleanupSchedule, jobs.PriceCacheCleanup); err != nil {
		return nil, fmt.Errorf("failed to register price cache cleanup job: %w", err)
	}

	if cfg.Archive.Enabled {
		uploader, err := reliability.NewS3Uploader(context.Background(), cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive uploader: %w", err)
		}
		jobs.Archive = reliability.NewResultArchiver(container.Results, uploader, cfg.Archive.Bucket, cfg.Archive.Prefix, log)
		if err := container.Scheduler.AddJob(cfg.Archive.Schedule, jobs.Archive); err != nil {
			return nil, fmt.Errorf("failed to register archive job: %w", err)
		}
	} else {
		log.Info().Msg("Result archiving disabled")
	}

	log.Info().Int("jobs", len(container.Scheduler.Jobs())).Msg("Maintenance jobs registered")
	return jobs, nil
}
