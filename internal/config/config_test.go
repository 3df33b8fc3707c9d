package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/cbdata.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "archive", cfg.Collect.Mode)
	assert.Equal(t, 5, cfg.Collect.Workers)
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 2000, cfg.Fetch.InitialBackoffMs)
	assert.Equal(t, 500, cfg.Fetch.PostDelayMs)
	assert.Equal(t, 12, cfg.Calendar.LookbackMonths)
	assert.Equal(t, "config/jsl_cookie.txt", cfg.JSL.CookieFile)
	assert.Equal(t, "data", cfg.Report.Dir)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0 30 17 * * MON-FRI", cfg.Schedule.ArchiveCron)
	assert.Equal(t, 72, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 60.0, cfg.Monitoring.MinQualityScore, 0.001)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
	require.Len(t, cfg.Sources, 4)
	assert.Equal(t, "jsl", cfg.Sources[0].ID)
	assert.Equal(t, 1, cfg.Sources[0].Priority)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/cb
log:
  level: debug
  format: console
collect:
  workers: 8
sources:
  - id: eastmoney
    name: Eastmoney
    priority: 1
    enabled: true
    request_delay_ms: 100
    max_retries: 2
    timeout_secs: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Collect.Workers)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "eastmoney", cfg.Sources[0].ID)
	assert.Equal(t, 2, cfg.Sources[0].MaxRetries)
	assert.Equal(t, 100, cfg.Sources[0].RequestDelayMs)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("CBDATA_SERVER_PORT", "3000")
	t.Setenv("CBDATA_COLLECT_WORKERS", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Collect.Workers)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Store:   StoreConfig{Driver: "mysql"},
		Collect: CollectConfig{Workers: 0},
		Fetch:   FetchConfig{MaxAttempts: 3},
		Sources: []SourceConfig{
			{ID: "jsl", MaxRetries: 3},
			{ID: "jsl", MaxRetries: 0},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
	assert.Contains(t, err.Error(), "collect.workers")
	assert.Contains(t, err.Error(), `duplicate id "jsl"`)
	assert.Contains(t, err.Error(), "sources.jsl.max_retries")
}

func TestValidate_PostgresNeedsURL(t *testing.T) {
	cfg := &Config{
		Store:   StoreConfig{Driver: "postgres"},
		Collect: CollectConfig{Workers: 1},
		Fetch:   FetchConfig{MaxAttempts: 1},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
