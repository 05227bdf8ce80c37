// Package config loads service configuration from environment
// variables, with an optional YAML file providing defaults that the
// environment can still override. This mirrors the env-first
// configuration style this codebase already uses, prefixed here with
// VECTORDB_ instead of NORNICDB_.
//
// Example:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the service needs at startup.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Index      IndexConfig      `yaml:"index"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP API (C12).
type ServerConfig struct {
	Address string `yaml:"address"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the record store and vector store.
type DatabaseConfig struct {
	DataDir string `yaml:"data_dir"`
}

// IndexConfig holds ANN index tunables. The build-index command passes
// M, EfConstruction, EfSearch and MLevel to the build; DefaultKind and
// DefaultDistanceMetric are only reported (serve banner, String). HTTP
// build requests do not read this config: omitted fields there fall back
// to the annindex package defaults.
type IndexConfig struct {
	DefaultKind           string  `yaml:"default_kind"`
	DefaultDistanceMetric string  `yaml:"default_distance_metric"`
	M                     int     `yaml:"m"`
	EfConstruction        int     `yaml:"ef_construction"`
	EfSearch              int     `yaml:"ef_search"`
	MLevel                float64 `yaml:"m_level"`
}

// EmbeddingConfig configures the embedding provider (C11).
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // "cohere" or "hash"
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Dimensions int  `yaml:"dimensions"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Default returns the configuration used when neither a file nor
// environment variables override a setting.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			DataDir: "./data",
		},
		Index: IndexConfig{
			DefaultKind:           "HNSW",
			DefaultDistanceMetric: "l2",
			M:                     16,
			EfConstruction:        200,
			EfSearch:              100,
			MLevel:                1.0,
		},
		Embedding: EmbeddingConfig{
			Provider:   "hash",
			Model:      "embed-english-v3.0",
			Dimensions: 1024,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config starting from Default(), layering in
// filePath's YAML contents if non-empty, then environment variables,
// which always win. filePath is optional — a missing file at a
// non-empty path is an error, but an empty filePath just skips the
// YAML layer.
func Load(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", filePath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", filePath, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Address = getEnv("VECTORDB_SERVER_ADDRESS", cfg.Server.Address)
	cfg.Server.ReadTimeout = getEnvDuration("VECTORDB_SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("VECTORDB_SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)

	cfg.Database.DataDir = getEnv("VECTORDB_DATA_DIR", cfg.Database.DataDir)

	cfg.Index.DefaultKind = getEnv("VECTORDB_INDEX_KIND", cfg.Index.DefaultKind)
	cfg.Index.DefaultDistanceMetric = getEnv("VECTORDB_INDEX_DISTANCE_METRIC", cfg.Index.DefaultDistanceMetric)
	cfg.Index.M = getEnvInt("VECTORDB_INDEX_M", cfg.Index.M)
	cfg.Index.EfConstruction = getEnvInt("VECTORDB_INDEX_EF_CONSTRUCTION", cfg.Index.EfConstruction)
	cfg.Index.EfSearch = getEnvInt("VECTORDB_INDEX_EF_SEARCH", cfg.Index.EfSearch)
	cfg.Index.MLevel = getEnvFloat("VECTORDB_INDEX_M_LEVEL", cfg.Index.MLevel)

	cfg.Embedding.Provider = getEnv("VECTORDB_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.APIKey = getEnv("VECTORDB_EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.Model = getEnv("VECTORDB_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dimensions = getEnvInt("VECTORDB_EMBEDDING_DIMENSIONS", cfg.Embedding.Dimensions)

	cfg.Logging.Level = getEnv("VECTORDB_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("VECTORDB_LOG_FORMAT", cfg.Logging.Format)
}

// Validate reports the first structural problem found in cfg.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("config: server address must not be empty")
	}
	if c.Database.DataDir == "" {
		return fmt.Errorf("config: database data_dir must not be empty")
	}
	if c.Index.M <= 0 {
		return fmt.Errorf("config: index.m must be positive, got %d", c.Index.M)
	}
	if c.Index.EfConstruction <= 0 {
		return fmt.Errorf("config: index.ef_construction must be positive, got %d", c.Index.EfConstruction)
	}
	if c.Index.EfSearch <= 0 {
		return fmt.Errorf("config: index.ef_search must be positive, got %d", c.Index.EfSearch)
	}
	switch c.Embedding.Provider {
	case "cohere", "hash":
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "cohere" && c.Embedding.APIKey == "" {
		return fmt.Errorf("config: embedding.api_key is required for provider \"cohere\"")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("config: embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// redactedAPIKey returns a safe-to-log stand-in for a secret value.
func redactedAPIKey(key string) string {
	if key == "" {
		return ""
	}
	return strings.Repeat("*", len(key))
}

// String returns a log-safe representation of cfg: API keys are
// redacted.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server: %s, DataDir: %s, Index: %s/%s, Embedding: %s(key=%s)}",
		c.Server.Address, c.Database.DataDir,
		c.Index.DefaultKind, c.Index.DefaultDistanceMetric,
		c.Embedding.Provider, redactedAPIKey(c.Embedding.APIKey),
	)
}
