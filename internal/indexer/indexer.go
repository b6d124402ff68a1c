// Package indexer ingests documents into the chunk store and builds the lexical
// and vector indexes from it.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/extract"
	"github.com/hyperjump/docchat/internal/keyword"
	"github.com/hyperjump/docchat/internal/metrics"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/vector"
)

const defaultEmbedBatch = 64

// Indexer owns writes to the chunk store and index builds. Builds are
// serialized; searches keep reading the previous index snapshot meanwhile.
type Indexer struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	keywordIndex keyword.Index
	vectorStore  vector.Store
	chunker      *Chunker
	extractor    *extract.Extractor
	embedBatch   int
	maxFileSize  int64
	maxTotalSize int64
	logger       *zap.Logger

	buildMu sync.Mutex
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// WithExtractor replaces the default file extractor.
func WithExtractor(e *extract.Extractor) Option {
	return func(idx *Indexer) {
		if e != nil {
			idx.extractor = e
		}
	}
}

// WithEmbedBatch sets how many chunk texts are embedded per call during a rebuild.
func WithEmbedBatch(n int) Option {
	return func(idx *Indexer) {
		if n > 0 {
			idx.embedBatch = n
		}
	}
}

// WithSizeLimits bounds ingestion: maxFile per file and maxTotal per
// IngestFile or IngestDirectory call. Zero means unlimited.
func WithSizeLimits(maxFile, maxTotal int64) Option {
	return func(idx *Indexer) {
		idx.maxFileSize = max(maxFile, 0)
		idx.maxTotalSize = max(maxTotal, 0)
	}
}

// NewIndexer creates an indexer that chunks documents into windows of
// chunkSize words overlapping by chunkOverlap.
func NewIndexer(
	store storage.Storage,
	embedder embedding.Embedder,
	keywordIndex keyword.Index,
	vectorStore vector.Store,
	chunkSize, chunkOverlap int,
	opts ...Option,
) *Indexer {
	idx := &Indexer{
		storage:      store,
		embedder:     embedder,
		keywordIndex: keywordIndex,
		vectorStore:  vectorStore,
		chunker:      NewChunker(chunkSize, chunkOverlap),
		extractor:    extract.NewExtractor(),
		embedBatch:   defaultEmbedBatch,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// AddDocument normalizes and chunks input and stores the document with its
// chunks, replacing any previous version. It does not touch the indexes; call
// Rebuild afterwards. Empty content fails with models.ErrInvalidDocument.
func (idx *Indexer) AddDocument(ctx context.Context, input *models.DocumentInput) (*models.Document, error) {
	if input == nil {
		return nil, fmt.Errorf("document is nil: %w", models.ErrInvalidDocument)
	}
	content := Normalize(input.Content)
	if content == "" {
		return nil, fmt.Errorf("document %q has no text content: %w", input.ID, models.ErrInvalidDocument)
	}

	doc := &models.Document{
		ID:       input.ID,
		Title:    input.Title,
		Content:  content,
		Metadata: coerceMetadata(input.Metadata),
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Title == "" {
		doc.Title = doc.ID
	}

	chunks := idx.chunker.Chunk(doc.ID, doc.Content)
	for _, c := range chunks {
		c.Metadata = chunkMetadata(doc)
	}
	if err := idx.storage.SaveDocument(ctx, doc, chunks); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	idx.logger.Debug("document stored", zap.String("doc_id", doc.ID), zap.Int("chunks", len(chunks)))
	return doc, nil
}

// DeleteDocument removes a document and its chunks from the store.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	idx.logger.Debug("document deleted", zap.String("doc_id", id))
	return nil
}

// Open prepares the indexes at startup: the lexical index is built from the
// store and the persisted vector collection is loaded. A corrupted collection,
// or one whose size disagrees with the store, is rebuilt.
func (idx *Indexer) Open(ctx context.Context) error {
	idx.buildMu.Lock()
	defer idx.buildMu.Unlock()

	chunks, err := idx.storage.ListChunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	if err := idx.keywordIndex.Build(ctx, chunks); err != nil {
		return fmt.Errorf("failed to build keyword index: %w", err)
	}

	openErr := idx.vectorStore.Open(ctx)
	switch {
	case errors.Is(openErr, models.ErrIndexCorrupted):
		idx.logger.Warn("vector collection corrupted, rebuilding", zap.Error(openErr))
		metrics.IndexRebuildsTotal.WithLabelValues("corruption").Inc()
		return idx.rebuildVectors(ctx, chunks)
	case openErr != nil:
		return fmt.Errorf("failed to open vector store: %v: %w", openErr, models.ErrIndexUnavailable)
	}

	size, err := idx.vectorStore.Size(ctx)
	if err != nil {
		return fmt.Errorf("vector store size: %w", err)
	}
	if size != len(chunks) {
		idx.logger.Info("vector collection out of date, rebuilding",
			zap.Int("vectors", size), zap.Int("chunks", len(chunks)))
		metrics.IndexRebuildsTotal.WithLabelValues("stale").Inc()
		return idx.rebuildVectors(ctx, chunks)
	}
	metrics.IndexedChunks.Set(float64(len(chunks)))
	idx.logger.Info("indexes opened", zap.Int("chunks", len(chunks)), zap.String("vector_backend", idx.vectorStore.Type()))
	return nil
}

// Rebuild builds fresh lexical and vector indexes from every stored chunk and
// swaps them in. On failure neither index changes.
func (idx *Indexer) Rebuild(ctx context.Context) error {
	idx.buildMu.Lock()
	defer idx.buildMu.Unlock()

	start := time.Now()
	chunks, err := idx.storage.ListChunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	staged, err := idx.keywordIndex.Prepare(ctx, chunks)
	if err != nil {
		return fmt.Errorf("failed to build keyword index: %w", err)
	}
	// The lexical index only becomes visible once the vector collection has
	// been replaced, so a failed rebuild leaves both indexes as they were.
	if err := idx.rebuildVectors(ctx, chunks); err != nil {
		staged.Discard()
		return err
	}
	staged.Commit()
	metrics.IndexRebuildsTotal.WithLabelValues("full").Inc()
	idx.logger.Info("indexes rebuilt", zap.Int("chunks", len(chunks)), zap.Duration("duration", time.Since(start)))
	return nil
}

// RebuildVectors repopulates only the vector collection from the store.
func (idx *Indexer) RebuildVectors(ctx context.Context) error {
	idx.buildMu.Lock()
	defer idx.buildMu.Unlock()

	chunks, err := idx.storage.ListChunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	return idx.rebuildVectors(ctx, chunks)
}

// rebuildVectors must be called with buildMu held.
func (idx *Indexer) rebuildVectors(ctx context.Context, chunks []*models.Chunk) error {
	ids := make([]string, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	for start := 0; start < len(chunks); start += idx.embedBatch {
		end := min(start+idx.embedBatch, len(chunks))
		batch, err := idx.embedder.EmbedBatch(ctx, models.ChunkTexts(chunks[start:end]))
		if err != nil {
			return fmt.Errorf("failed to embed chunks %d-%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
	}
	if err := idx.vectorStore.Rebuild(ctx, ids, vectors); err != nil {
		return fmt.Errorf("failed to rebuild vector store: %w", err)
	}
	metrics.IndexedChunks.Set(float64(len(chunks)))
	idx.logger.Debug("vector collection rebuilt", zap.Int("vectors", len(vectors)))
	return nil
}

// Stats describes the stored corpus and current indexes.
type Stats struct {
	Documents     int64  `json:"documents"`
	Chunks        int64  `json:"chunks"`
	KeywordChunks uint64 `json:"keyword_chunks"`
	VectorChunks  int    `json:"vector_chunks"`
	VectorBackend string `json:"vector_backend"`
}

// Stats returns counts from the store and both indexes. A corrupted vector
// collection reports -1 vectors rather than failing.
func (idx *Indexer) Stats(ctx context.Context) (*Stats, error) {
	docs, err := idx.storage.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	chunks, err := idx.storage.CountChunks(ctx)
	if err != nil {
		return nil, err
	}
	kw, err := idx.keywordIndex.DocCount()
	if err != nil {
		return nil, err
	}
	vecs, err := idx.vectorStore.Size(ctx)
	if err != nil {
		idx.logger.Warn("vector store size unavailable", zap.Error(err))
		vecs = -1
	}
	return &Stats{
		Documents:     docs,
		Chunks:        chunks,
		KeywordChunks: kw,
		VectorChunks:  vecs,
		VectorBackend: idx.vectorStore.Type(),
	}, nil
}

// coerceMetadata returns a copy of m, or an empty map when m is nil.
func coerceMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func chunkMetadata(doc *models.Document) map[string]interface{} {
	meta := coerceMetadata(doc.Metadata)
	meta["title"] = doc.Title
	return meta
}
