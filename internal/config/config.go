// Package config provides configuration management for mnemo.
// Settings layer in order of increasing precedence: built-in defaults,
// an optional YAML file, then environment variables with the MNEMO_
// prefix. Validate catches out-of-range values before anything starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the mnemo server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Embedding EmbeddingConfig `yaml:"embedding"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host      string  `yaml:"host"`       // Server host (default: 127.0.0.1)
	Port      int     `yaml:"port"`       // Server port (default: 7171)
	RateLimit float64 `yaml:"rate_limit"` // Requests per second per server (default: 50)
	RateBurst int     `yaml:"rate_burst"` // Burst allowance (default: 100)
}

// StorageConfig contains memory store configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // Store engine: memory, sqlite, postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // Path to data directory (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // Connection string when engine is postgres
}

// CacheConfig contains response cache configuration.
type CacheConfig struct {
	Capacity int `yaml:"capacity"` // Max cached retrievals (default: 10000)
}

// RetrievalConfig contains retrieval defaults used when a request omits
// the corresponding parameter.
type RetrievalConfig struct {
	Threshold float64 `yaml:"threshold"` // Similarity cutoff in [0,1] (default: 0.3)
	Limit     int     `yaml:"limit"`     // Max results per query (default: 5)
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider     string   `yaml:"provider"`       // Provider: mock, ollama, openai (default: ollama)
	OllamaURL    string   `yaml:"ollama_url"`     // Ollama API URL (default: http://localhost:11434)
	Model        string   `yaml:"model"`          // Embedding model name (default: nomic-embed-text)
	OpenAIAPIKey string   `yaml:"openai_api_key"` // OpenAI API key
	Dimensions   int      `yaml:"dimensions"`     // Embedding vector size (default: 768)
	Timeout      Duration `yaml:"timeout"`        // Per-call timeout (default: 10s)
}

// Duration wraps time.Duration so YAML values like "10s" parse naturally.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LoadConfig loads configuration from defaults, the optional YAML file at
// path (empty path skips the file layer), and MNEMO_ environment
// variables, then validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration ranges and enum values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d outside [1,65535]", c.Server.Port)
	}
	switch c.Storage.Engine {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q", c.Storage.Engine)
	}
	if c.Storage.Engine == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("config: postgres engine requires a DSN")
	}
	switch c.Embedding.Provider {
	case "mock", "ollama", "openai":
	default:
		return fmt.Errorf("config: unknown embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "openai" && c.Embedding.OpenAIAPIKey == "" {
		return fmt.Errorf("config: openai provider requires an API key")
	}
	if c.Retrieval.Threshold < 0 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("config: retrieval threshold %v outside [0,1]", c.Retrieval.Threshold)
	}
	if c.Retrieval.Limit < 1 {
		return fmt.Errorf("config: retrieval limit %d must be at least 1", c.Retrieval.Limit)
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("config: cache capacity %d must be at least 1", c.Cache.Capacity)
	}
	if c.Embedding.Timeout.Std() <= 0 {
		return fmt.Errorf("config: embedding timeout must be positive")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      7171,
			RateLimit: 50,
			RateBurst: 100,
		},
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
		},
		Cache: CacheConfig{
			Capacity: 10000,
		},
		Retrieval: RetrievalConfig{
			Threshold: 0.3,
			Limit:     5,
		},
		Embedding: EmbeddingConfig{
			Provider:   "ollama",
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			Timeout:    Duration(10 * time.Second),
		},
	}
}

// applyEnv overlays MNEMO_ environment variables on cfg.
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("MNEMO_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("MNEMO_PORT", cfg.Server.Port)
	cfg.Server.RateLimit = getEnvFloat("MNEMO_RATE_LIMIT", cfg.Server.RateLimit)
	cfg.Server.RateBurst = getEnvInt("MNEMO_RATE_BURST", cfg.Server.RateBurst)

	cfg.Storage.Engine = getEnv("MNEMO_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("MNEMO_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("MNEMO_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Cache.Capacity = getEnvInt("MNEMO_CACHE_CAPACITY", cfg.Cache.Capacity)

	cfg.Retrieval.Threshold = getEnvFloat("MNEMO_RETRIEVAL_THRESHOLD", cfg.Retrieval.Threshold)
	cfg.Retrieval.Limit = getEnvInt("MNEMO_RETRIEVAL_LIMIT", cfg.Retrieval.Limit)

	cfg.Embedding.Provider = getEnv("MNEMO_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.OllamaURL = getEnv("MNEMO_OLLAMA_URL", cfg.Embedding.OllamaURL)
	cfg.Embedding.Model = getEnv("MNEMO_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.OpenAIAPIKey = getEnv("MNEMO_OPENAI_API_KEY", cfg.Embedding.OpenAIAPIKey)
	cfg.Embedding.Dimensions = getEnvInt("MNEMO_EMBEDDING_DIMENSIONS", cfg.Embedding.Dimensions)
	cfg.Embedding.Timeout = getEnvDuration("MNEMO_EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a
// default value.
func getEnvDuration(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return Duration(d)
		}
	}
	return defaultValue
}
