// Package di wires the application's dependencies.
//
// The Container is the single source of truth for service instances. It is
// built by Wire() and handed to the HTTP server, the scheduler and the CLI.
package di

import (
	"errors"

	"github.com/aristath/autopublish/internal/clientdata"
	"github.com/aristath/autopublish/internal/clients/wordpress"
	"github.com/aristath/autopublish/internal/clients/yahoo"
	"github.com/aristath/autopublish/internal/database"
	"github.com/aristath/autopublish/internal/domain"
	"github.com/aristath/autopublish/internal/events"
	"github.com/aristath/autopublish/internal/modules/authors"
	"github.com/aristath/autopublish/internal/modules/dedup"
	"github.com/aristath/autopublish/internal/modules/profiles"
	"github.com/aristath/autopublish/internal/modules/quota"
	"github.com/aristath/autopublish/internal/modules/results"
	"github.com/aristath/autopublish/internal/modules/runstate"
	"github.com/aristath/autopublish/internal/scheduler"
	"github.com/aristath/autopublish/internal/work"
)

// Container holds all dependencies of the application
type Container struct {
	// Databases
	PublishingDB *database.DB // profiles, run states, quota counters, rotation cursors, fingerprints
	LedgerDB     *database.DB // append-only ticker results

	// Clients
	YahooClient     *yahoo.Client
	WordPressClient *wordpress.Client

	// Repositories
	ProfileRepo   *profiles.ProfileRepository
	RunStates     *runstate.Store
	Results       *results.Repository
	QuotaGuard    *quota.Guard
	AuthorRotator *authors.Rotator
	DedupDetector *dedup.Detector
	PriceCache    *clientdata.Repository

	// Services
	ProfileService *profiles.Service
	Generator      domain.ReportGenerator
	Publisher      domain.Publisher
	Broadcaster    *events.Broadcaster
	Controller     *work.Controller
	Scheduler      *scheduler.Scheduler
}

// Databases returns the open databases by name
func (c *Container) Databases() map[string]*database.DB {
	out := make(map[string]*database.DB, 2)
	if c.PublishingDB != nil {
		out[database.NamePublishing] = c.PublishingDB
	}
	if c.LedgerDB != nil {
		out[database.NameLedger] = c.LedgerDB
	}
	return out
}

// Close closes every database. Workers must be stopped first.
func (c *Container) Close() error {
	var errs []error
	for _, db := range c.Databases() {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
