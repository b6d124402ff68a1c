// Package config provides configuration loading and structs for the docchat server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	LLM        LLMConfig        `yaml:"llm"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Watch      WatchConfig      `yaml:"watch"`
}

// IngestConfig bounds how much text ingestion reads. Sizes are in bytes.
type IngestConfig struct {
	MaxFileSize  int64 `yaml:"max_file_size"`  // per file, and per HTTP document body
	MaxTotalSize int64 `yaml:"max_total_size"` // per directory ingest
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds the chunk database and vector collection locations.
type StorageConfig struct {
	DatabasePath  string `yaml:"database_path"`
	VectorBackend string `yaml:"vector_backend"` // memory or pgvector
	VectorPath    string `yaml:"vector_path"`
	Collection    string `yaml:"collection"`
	PostgresDSN   string `yaml:"postgres_dsn"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // openai, azure or mock
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	APIVersion string        `yaml:"api_version"`
	Dimensions int           `yaml:"dimensions"`
	BatchSize  int           `yaml:"batch_size"`
	CacheSize  int           `yaml:"cache_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LLMConfig holds completion service settings.
type LLMConfig struct {
	Provider          string        `yaml:"provider"` // openai or azure
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	APIVersion        string        `yaml:"api_version"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Breaker           BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the completion circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// RetrievalConfig holds retrieval, fusion and chunking settings.
type RetrievalConfig struct {
	K              int      `yaml:"k"`
	MaxK           int      `yaml:"max_k"`
	GateK          int      `yaml:"gate_k"`
	KeywordWeight  *float64 `yaml:"keyword_weight"`
	SemanticWeight *float64 `yaml:"semantic_weight"`
	ChunkSize      int      `yaml:"chunk_size"`
	ChunkOverlap   *int     `yaml:"chunk_overlap"`
}

// Overlap returns the chunk overlap in words; 0 when unset.
func (r *RetrievalConfig) Overlap() int {
	if r.ChunkOverlap != nil {
		return *r.ChunkOverlap
	}
	return 0
}

// Weights returns the lexical and vector fusion weights.
func (r *RetrievalConfig) Weights() (lexical, vector float64) {
	if r.KeywordWeight != nil {
		lexical = *r.KeywordWeight
	}
	if r.SemanticWeight != nil {
		vector = *r.SemanticWeight
	}
	return lexical, vector
}

// GenerationConfig holds per-stage completion parameters.
type GenerationConfig struct {
	Gate         StageConfig `yaml:"gate"`
	Synthesis    StageConfig `yaml:"synthesis"`
	Verification StageConfig `yaml:"verification"`
}

// StageConfig is the sampling budget of one completion stage.
type StageConfig struct {
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

// TemperatureOrZero returns the configured temperature or 0 when unset.
func (s StageConfig) TemperatureOrZero() float64 {
	if s.Temperature != nil {
		return *s.Temperature
	}
	return 0
}

// Load reads and parses the config file at path, loads .env files, applies defaults and
// environment overrides, expands paths and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	loadDotEnv(configDir)

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorPath = expandPath(cfg.Storage.VectorPath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks fusion weights, retrieval sizes and backend names.
func (c *Config) Validate() error {
	var errs []error
	lex, vec := c.Retrieval.Weights()
	if lex < 0 || vec < 0 {
		errs = append(errs, fmt.Errorf("retrieval weights must be non-negative, got %v and %v", lex, vec))
	}
	if lex+vec <= 0 {
		errs = append(errs, errors.New("retrieval weights must sum to a positive value"))
	}
	if c.Retrieval.K <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K))
	}
	if overlap := c.Retrieval.Overlap(); overlap < 0 || overlap >= c.Retrieval.ChunkSize {
		errs = append(errs, fmt.Errorf("retrieval.chunk_overlap (%d) must be non-negative and smaller than chunk_size (%d)",
			overlap, c.Retrieval.ChunkSize))
	}
	if c.Ingest.MaxFileSize <= 0 || c.Ingest.MaxTotalSize <= 0 {
		errs = append(errs, fmt.Errorf("ingest.max_file_size and ingest.max_total_size must be positive, got %d and %d",
			c.Ingest.MaxFileSize, c.Ingest.MaxTotalSize))
	} else if c.Ingest.MaxFileSize > c.Ingest.MaxTotalSize {
		errs = append(errs, fmt.Errorf("ingest.max_file_size (%d) must not exceed max_total_size (%d)",
			c.Ingest.MaxFileSize, c.Ingest.MaxTotalSize))
	}
	switch c.Storage.VectorBackend {
	case "memory":
	case "pgvector":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the pgvector backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector backend %q", c.Storage.VectorBackend))
	}
	switch c.Embedding.Provider {
	case "openai", "azure", "mock":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}
	switch c.LLM.Provider {
	case "openai", "azure":
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// loadDotEnv loads .env from the config directory and the working directory.
// Variables already present in the environment win.
func loadDotEnv(configDir string) {
	for _, p := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
