package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.ConversionCheckInterval)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.FlushInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.Tracking.AttributionWindow)
	assert.Equal(t, PositionWeights{First: 0.4, Middle: 0.2, Last: 0.4}, cfg.Tracking.PositionWeights)
	assert.False(t, cfg.DemoMode)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_CH_ADDR", "clickhouse:9000")
	t.Setenv("PORT", "9191")

	path := filepath.Join(t.TempDir(), "analytics.yaml")
	content := `
server:
  port: "8081"
clickhouse:
  addr: ${TEST_CH_ADDR}
storage:
  backend: sqlite
scheduler:
  flush_interval: 45s
tracking:
  position_weights:
    first: 0.6
    middle: 0.1
    last: 0.3
demo_mode: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "clickhouse:9000", cfg.ClickHouse.Addr)
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.FlushInterval)
	// untouched fields keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Scheduler.ConversionCheckInterval)
	assert.True(t, cfg.DemoMode)
	assert.Equal(t, PositionWeights{First: 0.6, Middle: 0.1, Last: 0.3}, cfg.Tracking.PositionWeights)
	assert.Equal(t, "position_based", cfg.Tracking.AttributionModel)
	// PORT wins over the file
	assert.Equal(t, "9191", cfg.Server.Port)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestShippedConfigParses(t *testing.T) {
	cfg, err := Load("analytics.yaml")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "edumarket.io", cfg.Server.SiteHost)
	assert.Equal(t, "position_based", cfg.Tracking.AttributionModel)
	assert.Equal(t, 720*time.Hour, cfg.Tracking.AttributionWindow)
	assert.Equal(t, "edumarket.conversions", cfg.Kafka.Topics["conversion"])
}
