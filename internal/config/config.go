package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Vector backends selectable through VECTOR_BACKEND.
const (
	BackendChroma   = "chroma"
	BackendEmbedded = "embedded"
	BackendNone     = "none"
)

type Config struct {
	Port     int    `yaml:"port"`
	DataDir  string `yaml:"data_dir"`
	APIKey   string `yaml:"api_key"`
	LogLevel string `yaml:"log_level"`
	// Resource cache
	StoreCacheSize  int `yaml:"store_cache_size"`
	VectorCacheSize int `yaml:"vector_cache_size"`
	// Registry persistence
	RegistryFlushDelay    time.Duration `yaml:"registry_flush_delay"`
	RegistryTouchInterval time.Duration `yaml:"registry_touch_interval"`
	// Vector subprocess
	VectorBackend     string        `yaml:"vector_backend"`
	VectorCommand     string        `yaml:"vector_command"`
	VectorArgs        []string      `yaml:"vector_args"`
	VectorCallTimeout time.Duration `yaml:"vector_call_timeout"`
	VectorBatchSize   int           `yaml:"vector_batch_size"`
	VectorChunkSize   int           `yaml:"vector_chunk_size"`
	// Search tuning
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	KeywordBaseline     float64 `yaml:"keyword_baseline"`
	// Background sync
	SyncWorkers   int `yaml:"sync_workers"`
	SyncQueueSize int `yaml:"sync_queue_size"`
	// Ollama
	OllamaBaseURL  string `yaml:"ollama_base_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	SummaryModel   string `yaml:"summary_model"`
	SummaryEnabled bool   `yaml:"summary_enabled"`
	// Maintenance
	MaintenanceSchedule string `yaml:"maintenance_schedule"`
	// MCP adapter
	ServerURL string `yaml:"server_url"`
}

// Defaults returns the configuration used when neither a file nor the
// environment overrides a key.
func Defaults() *Config {
	return &Config{
		Port:                  8742,
		DataDir:               defaultDataDir(),
		LogLevel:              "info",
		StoreCacheSize:        5,
		VectorCacheSize:       3,
		RegistryFlushDelay:    2 * time.Second,
		RegistryTouchInterval: time.Minute,
		VectorBackend:         BackendChroma,
		VectorCommand:         "uvx",
		VectorArgs:            []string{"chroma-mcp", "--client-type", "persistent", "--data-dir", "{data_dir}"},
		VectorCallTimeout:     30 * time.Second,
		VectorBatchSize:       100,
		VectorChunkSize:       2000,
		SimilarityThreshold:   0.70,
		KeywordBaseline:       0.5,
		SyncWorkers:           4,
		SyncQueueSize:         256,
		OllamaBaseURL:         "http://localhost:11434",
		EmbeddingModel:        "nomic-embed-text",
		SummaryModel:          "qwen2.5:1.5b",
		SummaryEnabled:        true,
		MaintenanceSchedule:   "@every 30m",
		ServerURL:             "http://localhost:8742",
	}
}

// Load layers defaults, the optional YAML file and the environment.
func Load() (*Config, error) {
	cfg := Defaults()
	cfg.DataDir = envStr("PROJMEM_DATA_DIR", cfg.DataDir)

	path := envStr("PROJMEM_CONFIG", filepath.Join(cfg.DataDir, "config.yaml"))
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.DataDir = envStr("PROJMEM_DATA_DIR", c.DataDir)
	c.APIKey = envStr("API_KEY", c.APIKey)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.StoreCacheSize = envInt("STORE_CACHE_SIZE", c.StoreCacheSize)
	c.VectorCacheSize = envInt("VECTOR_CACHE_SIZE", c.VectorCacheSize)
	c.RegistryFlushDelay = envDuration("REGISTRY_FLUSH_DELAY", c.RegistryFlushDelay)
	c.RegistryTouchInterval = envDuration("REGISTRY_TOUCH_INTERVAL", c.RegistryTouchInterval)
	c.VectorBackend = envStr("VECTOR_BACKEND", c.VectorBackend)
	c.VectorCommand = envStr("VECTOR_COMMAND", c.VectorCommand)
	c.VectorArgs = envFields("VECTOR_ARGS", c.VectorArgs)
	c.VectorCallTimeout = envDuration("VECTOR_CALL_TIMEOUT", c.VectorCallTimeout)
	c.VectorBatchSize = envInt("VECTOR_BATCH_SIZE", c.VectorBatchSize)
	c.VectorChunkSize = envInt("VECTOR_CHUNK_SIZE", c.VectorChunkSize)
	c.SimilarityThreshold = envFloat("SIMILARITY_THRESHOLD", c.SimilarityThreshold)
	c.KeywordBaseline = envFloat("KEYWORD_BASELINE", c.KeywordBaseline)
	c.SyncWorkers = envInt("SYNC_WORKERS", c.SyncWorkers)
	c.SyncQueueSize = envInt("SYNC_QUEUE_SIZE", c.SyncQueueSize)
	c.OllamaBaseURL = envStr("OLLAMA_BASE_URL", c.OllamaBaseURL)
	c.EmbeddingModel = envStr("EMBEDDING_MODEL", c.EmbeddingModel)
	c.SummaryModel = envStr("SUMMARY_MODEL", c.SummaryModel)
	c.SummaryEnabled = envBool("SUMMARY_ENABLED", c.SummaryEnabled)
	c.MaintenanceSchedule = envStr("MAINTENANCE_SCHEDULE", c.MaintenanceSchedule)
	c.ServerURL = envStr("PROJMEM_SERVER_URL", c.ServerURL)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("PROJMEM_DATA_DIR must not be empty")
	}
	if c.StoreCacheSize < 1 {
		return fmt.Errorf("STORE_CACHE_SIZE must be positive, got %d", c.StoreCacheSize)
	}
	if c.VectorCacheSize < 1 {
		return fmt.Errorf("VECTOR_CACHE_SIZE must be positive, got %d", c.VectorCacheSize)
	}
	switch c.VectorBackend {
	case BackendChroma:
		if c.VectorCommand == "" {
			return fmt.Errorf("VECTOR_COMMAND must not be empty for the chroma backend")
		}
	case BackendEmbedded:
		if c.OllamaBaseURL == "" {
			return fmt.Errorf("OLLAMA_BASE_URL must not be empty for the embedded backend")
		}
	case BackendNone:
	default:
		return fmt.Errorf("VECTOR_BACKEND must be one of chroma, embedded, none, got %q", c.VectorBackend)
	}
	if c.VectorCallTimeout <= 0 {
		return fmt.Errorf("VECTOR_CALL_TIMEOUT must be positive, got %s", c.VectorCallTimeout)
	}
	if c.VectorBatchSize < 1 {
		return fmt.Errorf("VECTOR_BATCH_SIZE must be positive, got %d", c.VectorBatchSize)
	}
	if c.VectorChunkSize < 100 {
		return fmt.Errorf("VECTOR_CHUNK_SIZE must be at least 100, got %d", c.VectorChunkSize)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be within [0, 1], got %f", c.SimilarityThreshold)
	}
	if c.KeywordBaseline < 0 || c.KeywordBaseline > 1 {
		return fmt.Errorf("KEYWORD_BASELINE must be within [0, 1], got %f", c.KeywordBaseline)
	}
	if c.SyncWorkers < 1 {
		return fmt.Errorf("SYNC_WORKERS must be positive, got %d", c.SyncWorkers)
	}
	if c.SyncQueueSize < 1 {
		return fmt.Errorf("SYNC_QUEUE_SIZE must be positive, got %d", c.SyncQueueSize)
	}
	return nil
}

// RegistryPath is the top-level file mapping project ids to data dirs.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "projects.json")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".projmem"
	}
	return filepath.Join(home, ".projmem")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envFields splits a whitespace-separated argument list.
func envFields(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		if fields := strings.Fields(v); len(fields) > 0 {
			return fields
		}
	}
	return fallback
}
