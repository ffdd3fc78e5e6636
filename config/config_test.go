package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "carwatch.db", cfg.OpsDBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 20*time.Hour, cfg.Monitor.StaleAfter)
	assert.Equal(t, 200, cfg.Monitor.BatchLimit)
	assert.Equal(t, 8, cfg.Monitor.Concurrency)
	assert.Equal(t, int64(500), cfg.Alerts.MinDropNotify)
	assert.Equal(t, 7, cfg.Alerts.DigestWindowDays)
	assert.Equal(t, "0 10 * * 0", cfg.Scheduler.DigestCron)
	assert.InDelta(t, 30.0, cfg.Scoring.HalfLifeDays, 1e-9)
	assert.InDelta(t, 0.001, cfg.Scoring.AgingWeight, 1e-9)
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Empty(t, cfg.Filters)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STALE_AFTER", "6h")
	t.Setenv("BATCH_LIMIT", "50")
	t.Setenv("MIN_DROP_NOTIFY", "750")
	t.Setenv("CHECK_INTERVAL", "30m")
	t.Setenv("SCORE_HALF_LIFE_DAYS", "14")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6*time.Hour, cfg.Monitor.StaleAfter)
	assert.Equal(t, 50, cfg.Monitor.BatchLimit)
	assert.Equal(t, int64(750), cfg.Alerts.MinDropNotify)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.Interval)
	assert.InDelta(t, 14.0, cfg.Scoring.HalfLifeDays, 1e-9)
}

func TestLoad_InvalidEnvFallsBackToDefault(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BATCH_LIMIT", "not-a-number")
	t.Setenv("STALE_AFTER", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Monitor.BatchLimit)
	assert.Equal(t, 20*time.Hour, cfg.Monitor.StaleAfter)
}

func TestLoad_FilterConfigs(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	filterDir := filepath.Join(dir, "config", "filters")
	require.NoError(t, os.MkdirAll(filterDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(filterDir, "mazda6.yaml"), []byte(`
id: mazda6
name: Mazda 6 wagons
brand: mazda
url: https://cars.example/search?brand=mazda&model=6
min_year: 2018
max_mileage: 120000
max_price: 18000
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filterDir, "notes.txt"), []byte("ignored"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Filters, 1)
	f := cfg.Filters["mazda6"]
	require.NotNil(t, f)
	assert.Equal(t, "Mazda 6 wagons", f.Name)
	assert.Equal(t, 2018, f.MinYear)
	assert.Equal(t, int64(18000), f.MaxPrice)
	assert.Equal(t, []string{"mazda6"}, cfg.FilterIDs())
}
