// Package storage defines the chunk store: documents and their immutable chunks.
package storage

import (
	"context"

	"github.com/hyperjump/docchat/internal/models"
)

// Storage persists documents and chunks. Chunks are written together with
// their document and never modified afterwards.
type Storage interface {
	// SaveDocument stores doc and replaces any chunks it had before, atomically.
	SaveDocument(ctx context.Context, doc *models.Document, chunks []*models.Chunk) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	// DeleteDocument removes a document and its chunks.
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	// GetChunksByIDs returns the chunks found for ids, keyed by ID. Unknown IDs are skipped.
	GetChunksByIDs(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	// ListChunks returns every chunk ordered by document and chunk index.
	ListChunks(ctx context.Context) ([]*models.Chunk, error)

	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
