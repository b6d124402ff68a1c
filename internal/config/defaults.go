package config

import (
	"os"
	"time"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 120 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/docchat/data/db/documents.db"
	}
	if cfg.Storage.VectorBackend == "" {
		cfg.Storage.VectorBackend = "memory"
	}
	if cfg.Storage.VectorPath == "" {
		cfg.Storage.VectorPath = "/usr/local/var/docchat/data/vectors"
	}
	if cfg.Storage.Collection == "" {
		cfg.Storage.Collection = "documents"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.LLM.RequestsPerSecond == 0 {
		cfg.LLM.RequestsPerSecond = 5
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 1
	}
	if cfg.LLM.Breaker.MaxFailures == 0 {
		cfg.LLM.Breaker.MaxFailures = 5
	}
	if cfg.LLM.Breaker.OpenTimeout == 0 {
		cfg.LLM.Breaker.OpenTimeout = 30 * time.Second
	}
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 10
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 50
	}
	if cfg.Retrieval.GateK == 0 {
		cfg.Retrieval.GateK = 3
	}
	if cfg.Retrieval.KeywordWeight == nil {
		cfg.Retrieval.KeywordWeight = floatPtr(0.4)
	}
	if cfg.Retrieval.SemanticWeight == nil {
		cfg.Retrieval.SemanticWeight = floatPtr(0.6)
	}
	if cfg.Retrieval.ChunkSize == 0 {
		cfg.Retrieval.ChunkSize = 512
	}
	// An explicit 0 disables overlap; unset overlap scales down with small chunks.
	if cfg.Retrieval.ChunkOverlap == nil {
		overlap := min(50, cfg.Retrieval.ChunkSize/10)
		cfg.Retrieval.ChunkOverlap = &overlap
	}
	if cfg.Ingest.MaxFileSize == 0 {
		cfg.Ingest.MaxFileSize = 50 << 20
	}
	if cfg.Ingest.MaxTotalSize == 0 {
		cfg.Ingest.MaxTotalSize = 200 << 20
	}
	applyStageDefaults(&cfg.Generation.Gate, 0, 10)
	applyStageDefaults(&cfg.Generation.Synthesis, 0.3, 300)
	applyStageDefaults(&cfg.Generation.Verification, 0, 200)
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx", ".xlsx"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

// ApplyEnv overrides secrets and endpoints from the environment. DOCCHAT_* variables win;
// OPENAI_* and AZURE_OPENAI_* fill whatever is still unset.
func ApplyEnv(cfg *Config) {
	setFromEnv(&cfg.LLM.APIKey, "DOCCHAT_LLM_API_KEY")
	setFromEnv(&cfg.Embedding.APIKey, "DOCCHAT_EMBEDDING_API_KEY")
	setFromEnv(&cfg.Storage.PostgresDSN, "DOCCHAT_POSTGRES_DSN")

	if cfg.LLM.Provider == "azure" {
		fillFromEnv(&cfg.LLM.APIKey, "AZURE_OPENAI_API_KEY")
		fillFromEnv(&cfg.LLM.BaseURL, "AZURE_OPENAI_ENDPOINT")
		setFromEnv(&cfg.LLM.Model, "AZURE_OPENAI_DEPLOYMENT_NAME")
		fillFromEnv(&cfg.LLM.APIVersion, "AZURE_OPENAI_API_VERSION")
	}
	if cfg.Embedding.Provider == "azure" {
		fillFromEnv(&cfg.Embedding.APIKey, "AZURE_OPENAI_API_KEY")
		fillFromEnv(&cfg.Embedding.BaseURL, "AZURE_OPENAI_ENDPOINT")
		setFromEnv(&cfg.Embedding.Model, "AZURE_OPENAI_EMBEDDINGS_DEPLOYMENT_NAME")
		fillFromEnv(&cfg.Embedding.APIVersion, "AZURE_OPENAI_API_VERSION")
	}
	fillFromEnv(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	fillFromEnv(&cfg.Embedding.APIKey, "OPENAI_API_KEY")
	// Embeddings share the completion key unless configured separately.
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
}

func applyStageDefaults(s *StageConfig, temperature float64, maxTokens int) {
	if s.Temperature == nil {
		s.Temperature = floatPtr(temperature)
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = maxTokens
	}
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func fillFromEnv(dst *string, key string) {
	if *dst == "" {
		setFromEnv(dst, key)
	}
}

func floatPtr(f float64) *float64 { return &f }
