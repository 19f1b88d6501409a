// Package config loads the process configuration once at startup. The
// resulting Config is passed explicitly to every component that needs it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ortelius/patchgraph/database"
	"github.com/ortelius/patchgraph/util"
	"gopkg.in/yaml.v2"
)

// Config is the root configuration.
type Config struct {
	Arango      database.ConnectionConfig `yaml:"arango"`
	Collections database.CollectionNames  `yaml:"collections"`
	Kafka       KafkaConfig               `yaml:"kafka"`
	Server      ServerConfig              `yaml:"server"`
	Ingest      IngestConfig              `yaml:"ingest"`
	LogLevel    string                    `yaml:"log_level"`
	Tracing     bool                      `yaml:"tracing"`
}

// KafkaConfig configures the patch event consumer and producer.
type KafkaConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	GroupID   string   `yaml:"group_id"`
	APIKey    string   `yaml:"api_key"`
	APISecret string   `yaml:"api_secret"`

	// RetryInitialInterval and RetryMaxInterval pace redelivery of a message
	// whose record hit a retryable store error, and refetching after a broker error.
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port      string `yaml:"port"`
	BodyLimit int    `yaml:"body_limit"`
}

// IngestConfig configures the batch ingestion driver.
type IngestConfig struct {
	Workers  int           `yaml:"workers"`
	Interval time.Duration `yaml:"interval"`
	// MaxRetryElapsed bounds retries of a record that failed with a retryable store error.
	MaxRetryElapsed time.Duration `yaml:"max_retry_elapsed"`
}

// Default returns the configuration used when no file or env var overrides it.
func Default() Config {
	return Config{
		Arango: database.ConnectionConfig{
			URL:             "http://localhost:8529",
			User:            "root",
			Password:        "",
			Database:        "patchintel",
			InitialInterval: 10 * time.Second,
			MaxInterval:     2 * time.Minute,
		},
		Collections: database.DefaultCollectionNames(),
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "patch-events",
			GroupID: "patchgraph-worker",

			RetryInitialInterval: 500 * time.Millisecond,
			RetryMaxInterval:     30 * time.Second,
		},
		Server: ServerConfig{
			Port:      "3000",
			BodyLimit: 10 * 1024 * 1024,
		},
		Ingest: IngestConfig{
			Workers:         4,
			MaxRetryElapsed: 30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if url, ok := os.LookupEnv("ARANGO_URL"); ok {
		c.Arango.URL = url
	} else if host, ok := os.LookupEnv("ARANGO_HOST"); ok {
		c.Arango.URL = "http://" + host + ":" + util.GetEnvDefault("ARANGO_PORT", "8529")
	}
	c.Arango.User = util.GetEnvDefault("ARANGO_USER", c.Arango.User)
	c.Arango.Password = util.GetEnvDefault("ARANGO_PASS", c.Arango.Password)
	c.Arango.Database = util.GetEnvDefault("ARANGO_DB", c.Arango.Database)

	if brokers := util.GetEnvDefault("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
		c.Kafka.Enabled = true
	}
	c.Kafka.Topic = util.GetEnvDefault("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.GroupID = util.GetEnvDefault("KAFKA_GROUP_ID", c.Kafka.GroupID)
	c.Kafka.APIKey = util.GetEnvDefault("KAFKA_API_KEY", c.Kafka.APIKey)
	c.Kafka.APISecret = util.GetEnvDefault("KAFKA_API_SECRET", c.Kafka.APISecret)

	c.Server.Port = util.GetEnvDefault("MS_PORT", c.Server.Port)
	c.LogLevel = util.GetEnvDefault("LOG_LEVEL", c.LogLevel)
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.Arango.URL == "" {
		return fmt.Errorf("arango.url must not be empty")
	}
	if c.Arango.Database == "" {
		return fmt.Errorf("arango.database must not be empty")
	}
	if err := c.Collections.Validate(); err != nil {
		return err
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Brokers[0] == "" {
			return fmt.Errorf("kafka.brokers must not be empty when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic must not be empty when kafka is enabled")
		}
		if c.Kafka.RetryInitialInterval <= 0 || c.Kafka.RetryMaxInterval < c.Kafka.RetryInitialInterval {
			return fmt.Errorf("kafka.retry_initial_interval must be positive and not exceed kafka.retry_max_interval")
		}
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1")
	}
	if c.Ingest.Interval < 0 {
		return fmt.Errorf("ingest.interval must not be negative")
	}
	return nil
}
