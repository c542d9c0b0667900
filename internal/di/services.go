package di

import (
	"github.com/aristath/autopublish/internal/clientdata"
	"github.com/aristath/autopublish/internal/clients/wordpress"
	"github.com/aristath/autopublish/internal/clients/yahoo"
	"github.com/aristath/autopublish/internal/config"
	"github.com/aristath/autopublish/internal/events"
	"github.com/aristath/autopublish/internal/modules/analysis"
	"github.com/aristath/autopublish/internal/modules/profiles"
	"github.com/aristath/autopublish/internal/scheduler"
	"github.com/aristath/autopublish/internal/work"
	"github.com/rs/zerolog"
)

// InitializeServices creates clients, collaborators and the run controller
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.YahooClient = yahoo.NewClient(cfg.Analysis.YahooBaseURL, log)
	container.WordPressClient = wordpress.NewClient(log)

	container.ProfileService = profiles.NewService(container.ProfileRepo, log)

	// Collaborators may be replaced before InitializeServices (tests, dry runs)
	if container.Generator == nil {
		var prices analysis.PriceSource = container.YahooClient
		if cfg.Analysis.PriceCacheTTL > 0 {
			prices = clientdata.NewCachedPrices(container.YahooClient, container.PriceCache, cfg.Analysis.PriceCacheTTL, log)
		}
		container.Generator = analysis.NewGenerator(prices, cfg.Analysis.HistoryRange, log)
	}
	if container.Publisher == nil {
		container.Publisher = container.WordPressClient
	}

	container.Broadcaster = events.NewBroadcaster(cfg.Publishing.ProgressThrottle, log)
	container.Controller = work.NewController(WorkerDeps(container), WorkerOptions(cfg), log)
	container.Scheduler = scheduler.New(log)

	log.Debug().Msg("Services initialized")
	return nil
}

// WorkerDeps collects the collaborators of profile workers from the container
func WorkerDeps(c *Container) work.Deps {
	return work.Deps{
		Profiles:  c.ProfileRepo,
		Generator: c.Generator,
		Publisher: c.Publisher,
		Quota:     c.QuotaGuard,
		Authors:   c.AuthorRotator,
		Dedup:     c.DedupDetector,
		States:    c.RunStates,
		Results:   c.Results,
		Events:    c.Broadcaster,
	}
}

// WorkerOptions maps publishing configuration onto worker options
func WorkerOptions(cfg *config.Config) work.Options {
	p := cfg.Publishing
	return work.Options{
		Backoff: work.Backoff{
			Base:        p.PublishBackoffBase,
			Max:         p.PublishBackoffMax,
			MaxAttempts: p.PublishMaxAttempts,
		},
		TickerTimeout:      p.TickerTimeout,
		TickerDelay:        p.TickerDelay,
		PauseCheckInterval: p.PauseCheckInterval,
		HeartbeatInterval:  p.HeartbeatInterval,
	}
}
