// Package embedding provides text embedding clients and caching.
package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/config"
)

// Embedder produces vector embeddings for text. Identical input yields identical
// output; service failures wrap models.ErrTransport.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// New creates the configured embedder wrapped in an LRU cache.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (*CachedEmbedder, error) {
	var inner Embedder
	switch cfg.Provider {
	case "mock":
		inner = NewMockEmbedder(cfg.Dimensions)
	case "openai", "azure", "":
		e, err := NewOpenAIEmbedder(cfg, logger)
		if err != nil {
			return nil, err
		}
		inner = e
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, azure, mock)", cfg.Provider)
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
