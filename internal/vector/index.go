// Package vector provides persisted, collection-scoped vector stores with nearest-neighbor search.
package vector

import "context"

// Store is a vector collection identified by a location and a collection name.
// Implementations report undecodable persisted state with an error wrapping
// models.ErrIndexCorrupted; Rebuild recovers from it.
type Store interface {
	// Open loads the persisted collection. It is safe to call more than once.
	Open(ctx context.Context) error
	// Rebuild clears the collection and repopulates it. Readers keep seeing the
	// previous contents until the new collection is complete.
	Rebuild(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*Result, error)
	Size(ctx context.Context) (int, error)
	Type() string
	Close() error
}

// Result is a single vector search hit; ID is a chunk ID.
type Result struct {
	ID    string
	Score float64 // cosine similarity for normalized vectors
}
