package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aristath/autopublish/internal/config"
	"github.com/aristath/autopublish/internal/di"
	"github.com/aristath/autopublish/pkg/logger"
	"github.com/rs/zerolog"
)

// loadConfig reads configuration the same way the server does
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}

	// Logs go to stderr so command output stays machine readable
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
		Output: os.Stderr,
	})
	return cfg, log, nil
}

// openContainer opens the databases, applies schemas and creates the stores.
// Callers must Close the returned container.
func openContainer() (*di.Container, *config.Config, zerolog.Logger, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, log, err
	}

	container, err := di.InitializeDatabases(cfg, log)
	if err != nil {
		return nil, nil, log, err
	}
	if err := di.InitializeRepositories(container, cfg, log); err != nil {
		_ = container.Close()
		return nil, nil, log, err
	}
	return container, cfg, log, nil
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
