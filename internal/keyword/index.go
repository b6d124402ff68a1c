// Package keyword provides the lexical (term-frequency) ranking over chunks.
package keyword

import (
	"context"

	"github.com/hyperjump/docchat/internal/models"
)

// Index ranks chunks for a query string.
type Index interface {
	// Build indexes chunks into a fresh index and swaps it in once complete.
	Build(ctx context.Context, chunks []*models.Chunk) error
	// Prepare indexes chunks into a fresh index without making it visible.
	Prepare(ctx context.Context, chunks []*models.Chunk) (Staged, error)
	// Search returns up to limit chunk IDs, best first.
	Search(ctx context.Context, query string, limit int) ([]*Result, error)
	// DocCount returns the number of chunks in the current index.
	DocCount() (uint64, error)
	Close() error
}

// Staged is a fully built index waiting to replace the current one. Exactly
// one of Commit or Discard must be called.
type Staged interface {
	// Commit swaps the staged index in and closes the previous one.
	Commit()
	// Discard releases the staged index; the current one stays in place.
	Discard()
}

// Result is a single lexical hit.
type Result struct {
	ID    string
	Score float64
}
