// Package testing provides test helpers: temp-file databases, fixtures and collaborator fakes.
package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/aristath/autopublish/internal/database"
)

// NewTestDB creates a migrated, file-backed test database.
// name selects the schema ("publishing" or "ledger").
// File-backed (not :memory:) so that concurrent connections see the same data.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	profile := database.ProfileStandard
	if name == database.NameLedger {
		profile = database.ProfileLedger
	}

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	}
}

// NewTestDBs creates both orchestrator databases
func NewTestDBs(t *testing.T) (publishing *database.DB, ledger *database.DB) {
	t.Helper()

	publishing, cleanupPublishing := NewTestDB(t, database.NamePublishing)
	ledger, cleanupLedger := NewTestDB(t, database.NameLedger)
	t.Cleanup(func() {
		cleanupLedger()
		cleanupPublishing()
	})
	return publishing, ledger
}

// GetRawConnection returns the raw *sql.DB connection from a database.DB instance.
func GetRawConnection(db *database.DB) *sql.DB {
	return db.Conn()
}
