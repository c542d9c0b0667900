package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTOPUBLISH_DATA_DIR", t.TempDir())
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3*time.Minute, cfg.Publishing.TickerTimeout)
	assert.Equal(t, 3, cfg.Publishing.PublishMaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Publishing.PublishBackoffBase)
	assert.Equal(t, 0, cfg.Publishing.AbsoluteDailyCap)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, 90, cfg.Maintenance.RetentionDays)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUTOPUBLISH_DATA_DIR", t.TempDir())
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "9090")
	t.Setenv("ABSOLUTE_DAILY_CAP", "5")
	t.Setenv("TICKER_TIMEOUT", "45s")
	t.Setenv("AUTO_RESUME_INTERRUPTED", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://dash.example.com, ,http://localhost:5173")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5, cfg.Publishing.AbsoluteDailyCap)
	assert.Equal(t, 45*time.Second, cfg.Publishing.TickerTimeout)
	assert.True(t, cfg.Publishing.AutoResumeInterrupted)
	assert.Equal(t, []string{"https://dash.example.com", "http://localhost:5173"}, cfg.AllowedOrigins)
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("AUTOPUBLISH_DATA_DIR", t.TempDir())
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "not-a-number")
	t.Setenv("TICKER_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 3*time.Minute, cfg.Publishing.TickerTimeout)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWT: JWTConfig{Secret: "s"},
			Publishing: PublishingConfig{
				TickerTimeout:      time.Minute,
				PublishMaxAttempts: 3,
				PublishBackoffBase: time.Second,
				PublishBackoffMax:  10 * time.Second,
				PauseCheckInterval: time.Second,
			},
			Maintenance: MaintenanceConfig{RetentionDays: 30},
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.JWT.Secret = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.JWT.Secret = ""
	cfg.DevMode = true
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.JWT.Secret)

	cfg = valid()
	cfg.Publishing.PublishMaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Publishing.PublishBackoffMax = time.Millisecond
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Publishing.AbsoluteDailyCap = -1
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Archive.Enabled = true
	assert.Error(t, cfg.Validate())
}
