package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analyzer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "clickhouse:\n  addr: localhost:9000\n"))
	require.NoError(t, err)

	assert.Equal(t, "localhost:9000", cfg.ClickHouse.Addr)
	assert.Equal(t, 7*24*time.Hour, cfg.Insights.Window)
	assert.Equal(t, 0.2, cfg.Insights.Tolerance)
	assert.Equal(t, 10000, cfg.Insights.StoredRows)
	assert.Equal(t, 2500.0, cfg.Insights.SlowPage.LCPThresholdMs)
	assert.Equal(t, 30.0, cfg.Insights.ScrollDropoff.DepthThresholdPct)
	assert.Equal(t, 2, cfg.Patterns.MinReports)
	assert.Equal(t, 20, cfg.Correlator.PageSize)
	assert.Equal(t, 10, cfg.Insights.MinOccurrences["error_spike"])
	assert.Equal(t, "high", cfg.Insights.Severity["rage_click"])
}

func TestLoad_ExpandsEnvAndKeepsOverrides(t *testing.T) {
	t.Setenv("ANALYZER_PG_DSN", "postgres://u:p@db/gosight")

	cfg, err := Load(writeConfig(t, `
postgres:
  dsn: ${ANALYZER_PG_DSN}
insights:
  window: 72h
  tolerance: 0.5
  severity:
    slow_page: critical
  min_occurrences:
    rage_click: 1
`))
	require.NoError(t, err)

	assert.Equal(t, "postgres://u:p@db/gosight", cfg.Postgres.DSN)
	assert.Equal(t, 72*time.Hour, cfg.Insights.Window)
	assert.Equal(t, 0.5, cfg.Insights.Tolerance)
	assert.Equal(t, "critical", cfg.Insights.Severity["slow_page"])
	assert.Equal(t, "high", cfg.Insights.Severity["rage_click"])
	assert.Equal(t, 1, cfg.Insights.MinOccurrences["rage_click"])
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_ShippedConfig(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://gosight@localhost:5432/gosight")
	t.Setenv("KAFKA_BROKER", "localhost:9092")

	cfg, err := Load(filepath.Join("..", "..", "config", "analyzer.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://gosight@localhost:5432/gosight", cfg.Postgres.DSN)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "gosight.insights", cfg.Kafka.Topics["insights"])
	assert.Equal(t, 10, cfg.Insights.MinOccurrences["error_spike"])
	assert.Equal(t, "low", cfg.Insights.Severity["scroll_dropoff"])
	assert.Equal(t, 168*time.Hour, cfg.Correlator.Lookback)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}
