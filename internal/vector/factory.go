package vector

import (
	"fmt"

	"github.com/hyperjump/docchat/internal/config"
)

// Backend names a vector store implementation.
type Backend string

const (
	// BackendMemory keeps vectors in memory and persists them to a collection file.
	BackendMemory Backend = "memory"
	// BackendPGVector stores vectors in a Postgres table via the pgvector extension.
	BackendPGVector Backend = "pgvector"
)

// NewStore creates the configured vector store. Call Open before use.
func NewStore(cfg config.StorageConfig, dimensions int) (Store, error) {
	switch Backend(cfg.VectorBackend) {
	case BackendMemory, "":
		return NewFileStore(cfg.VectorPath, cfg.Collection, dimensions)
	case BackendPGVector:
		return NewPGStore(cfg.PostgresDSN, cfg.Collection, dimensions)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: memory, pgvector)", cfg.VectorBackend)
	}
}
