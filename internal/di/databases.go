package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/autopublish/internal/config"
	"github.com/aristath/autopublish/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens both databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// publishing.db - mutable orchestration state
	publishingDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "publishing.db"),
		Profile: database.ProfileStandard,
		Name:    database.NamePublishing,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize publishing database: %w", err)
	}
	container.PublishingDB = publishingDB

	// ledger.db - append-only result log, fsync on every write
	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    database.NameLedger,
	})
	if err != nil {
		publishingDB.Close()
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	for _, db := range []*database.DB{publishingDB, ledgerDB} {
		if err := db.Migrate(); err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Str("data_dir", cfg.DataDir).Msg("Databases initialized and schemas applied")

	return container, nil
}
