package reliability

import (
	"fmt"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/rs/zerolog"
)

// DayPruner deletes rows keyed by a day older than the given one
type DayPruner interface {
	DeleteBefore(day string) (int64, error)
}

// RetentionJob prunes quota counters and fingerprints past the retention window.
// The ticker result ledger is never pruned.
type RetentionJob struct {
	pruners map[string]DayPruner
	now     func() time.Time
	log     zerolog.Logger
	days    int
}

// NewRetentionJob creates a retention job keeping `days` days of state
func NewRetentionJob(days int, pruners map[string]DayPruner, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		pruners: pruners,
		now:     time.Now,
		days:    days,
		log:     log.With().Str("job", "retention_cleanup").Logger(),
	}
}

// Name returns the job name
func (j *RetentionJob) Name() string {
	return "retention_cleanup"
}

// Cutoff is the first day that is kept
func (j *RetentionJob) Cutoff() string {
	return domain.DayOf(j.now().AddDate(0, 0, -j.days))
}

// Run deletes expired rows from every pruner
func (j *RetentionJob) Run() error {
	cutoff := j.Cutoff()
	var failed []string

	for name, p := range j.pruners {
		n, err := p.DeleteBefore(cutoff)
		if err != nil {
			j.log.Error().Err(err).Str("table", name).Msg("Retention cleanup failed")
			failed = append(failed, name)
			continue
		}
		j.log.Info().Str("table", name).Int64("deleted", n).Str("cutoff", cutoff).Msg("Expired rows deleted")
	}

	if len(failed) > 0 {
		return fmt.Errorf("retention cleanup failed for %v", failed)
	}
	return nil
}
