package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "patchgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8529", cfg.Arango.URL)
	assert.Equal(t, "patchintel", cfg.Arango.Database)
	assert.Equal(t, "patches", cfg.Collections.Patches)
	assert.Equal(t, "edges", cfg.Collections.Edges)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Kafka.RetryInitialInterval)
	assert.Equal(t, 30*time.Second, cfg.Kafka.RetryMaxInterval)
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
arango:
  url: http://arango:8529
  database: graph
collections:
  patches: patch_nodes
  products: product_nodes
  vulnerabilities: vuln_nodes
  edges: graph_edges
ingest:
  workers: 8
  interval: 1h
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://arango:8529", cfg.Arango.URL)
	assert.Equal(t, "graph", cfg.Arango.Database)
	assert.Equal(t, "root", cfg.Arango.User, "unset keys keep their defaults")
	assert.Equal(t, "patch_nodes", cfg.Collections.Patches)
	assert.Equal(t, "graph_edges", cfg.Collections.Edges)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, time.Hour, cfg.Ingest.Interval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ARANGO_HOST", "db.internal")
	t.Setenv("ARANGO_PORT", "9529")
	t.Setenv("ARANGO_DB", "prod")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("MS_PORT", "8080")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://db.internal:9529", cfg.Arango.URL)
	assert.Equal(t, "prod", cfg.Arango.Database)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoad_ArangoURLWinsOverHost(t *testing.T) {
	t.Setenv("ARANGO_URL", "https://arango.example.com:8529")
	t.Setenv("ARANGO_HOST", "ignored")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://arango.example.com:8529", cfg.Arango.URL)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "arango: [not a map"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "collections:\n  edges: patches\n"))
	assert.ErrorContains(t, err, "used twice")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "empty url", mutate: func(c *Config) { c.Arango.URL = "" }, want: "arango.url"},
		{name: "empty database", mutate: func(c *Config) { c.Arango.Database = "" }, want: "arango.database"},
		{name: "empty collection", mutate: func(c *Config) { c.Collections.Products = "" }, want: "must not be empty"},
		{name: "kafka without topic", mutate: func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topic = "" }, want: "kafka.topic"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }, want: "kafka.brokers"},
		{name: "kafka retry max below initial", mutate: func(c *Config) { c.Kafka.Enabled = true; c.Kafka.RetryMaxInterval = time.Millisecond }, want: "kafka.retry_initial_interval"},
		{name: "kafka zero retry interval", mutate: func(c *Config) { c.Kafka.Enabled = true; c.Kafka.RetryInitialInterval = 0 }, want: "kafka.retry_initial_interval"},
		{name: "no workers", mutate: func(c *Config) { c.Ingest.Workers = 0 }, want: "ingest.workers"},
		{name: "negative interval", mutate: func(c *Config) { c.Ingest.Interval = -time.Second }, want: "ingest.interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	assert.NoError(t, Default().Validate())
}
