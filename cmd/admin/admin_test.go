package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/autopublish/internal/config"
	"github.com/aristath/autopublish/internal/domain"
	"github.com/aristath/autopublish/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profileFile = `
[[profiles]]
id = "markets"
name = "Markets Daily"
site_url = "https://markets.example.com"
username = "bot"
app_password = "abcd efgh"
daily_cap = 4

[[profiles.authors]]
id = 3
name = "Alex"
`

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AUTOPUBLISH_DATA_DIR", t.TempDir())
	t.Setenv("JWT_SECRET", "admin-test-secret")
	t.Setenv("LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "publishing: ")
	assert.Contains(t, out, "ledger: ")
	assert.FileExists(t, filepath.Join(os.Getenv("AUTOPUBLISH_DATA_DIR"), "publishing.db"))
}

func TestToken_IsAcceptedByServer(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "token", "alice", "--hours", "2")
	require.NoError(t, err)

	claims, err := server.NewJWTService(config.JWTConfig{Secret: "admin-test-secret"}).
		ValidateToken(string(bytes.TrimSpace([]byte(out))))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)

	_, err = run(t, "token")
	assert.Error(t, err)
}

func TestProfilesImportAndList(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte(profileFile), 0o600))

	out, err := run(t, "profiles", "import", path, "--owner", "alice")
	require.NoError(t, err)
	assert.JSONEq(t, `{"created":["markets"],"updated":[]}`, out)

	// Importing again updates in place
	out, err = run(t, "profiles", "import", path, "--owner", "alice")
	require.NoError(t, err)
	assert.JSONEq(t, `{"created":[],"updated":["markets"]}`, out)

	out, err = run(t, "profiles", "list", "--owner", "alice")
	require.NoError(t, err)
	var views []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "Markets Daily", views[0]["name"])
	assert.Equal(t, true, views[0]["has_credentials"])
	assert.NotContains(t, out, "abcd efgh")

	out, err = run(t, "profiles", "list", "--owner", "bob")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	_, err = run(t, "profiles", "import", path)
	assert.Error(t, err, "owner is required")
}

func TestProfilesImport_InvalidFileWritesNothing(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[profiles]]
name = "No URL"
daily_cap = 2
`), 0o600))

	_, err := run(t, "profiles", "import", path, "--owner", "alice")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	out, err := run(t, "profiles", "list", "--owner", "alice")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestQuota(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "profiles.toml")
	require.NoError(t, os.WriteFile(path, []byte(profileFile), 0o600))
	_, err := run(t, "profiles", "import", path, "--owner", "alice")
	require.NoError(t, err)

	out, err := run(t, "quota", "markets", "--date", "2026-01-02")
	require.NoError(t, err)
	var counter map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &counter))
	assert.Equal(t, "2026-01-02", counter["day"])
	assert.EqualValues(t, 4, counter["remaining"])

	_, err = run(t, "quota", "markets", "--date", "tomorrow")
	assert.Error(t, err)

	_, err = run(t, "quota", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRuns(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "runs", "--owner", "alice")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	out, err = run(t, "runs", "--active")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)

	_, err = run(t, "runs")
	assert.Error(t, err)

	_, err = run(t, "runs", "--owner", "alice", "--active")
	assert.Error(t, err)
}
