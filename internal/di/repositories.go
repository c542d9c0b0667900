package di

import (
	"fmt"

	"github.com/aristath/autopublish/internal/clientdata"
	"github.com/aristath/autopublish/internal/config"
	"github.com/aristath/autopublish/internal/modules/authors"
	"github.com/aristath/autopublish/internal/modules/dedup"
	"github.com/aristath/autopublish/internal/modules/profiles"
	"github.com/aristath/autopublish/internal/modules/quota"
	"github.com/aristath/autopublish/internal/modules/results"
	"github.com/aristath/autopublish/internal/modules/runstate"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the stores over the open databases
func InitializeRepositories(container *Container, cfg *config.Config, log zerolog.Logger) error {
	if container.PublishingDB == nil || container.LedgerDB == nil {
		return fmt.Errorf("databases must be initialized first")
	}

	publishing := container.PublishingDB.Conn()

	container.ProfileRepo = profiles.NewProfileRepository(publishing, log)
	container.RunStates = runstate.NewStore(publishing, log)
	container.QuotaGuard = quota.NewGuard(publishing, container.ProfileRepo, cfg.Publishing.AbsoluteDailyCap, log)
	container.AuthorRotator = authors.NewRotator(publishing, container.ProfileRepo, log)
	container.DedupDetector = dedup.NewDetector(publishing, log)
	container.PriceCache = clientdata.NewRepository(publishing)
	container.Results = results.NewRepository(container.LedgerDB.Conn(), log)

	log.Debug().Msg("Repositories initialized")
	return nil
}
