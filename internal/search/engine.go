package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/keyword"
	"github.com/hyperjump/docchat/internal/metrics"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/vector"
	"github.com/hyperjump/docchat/pkg/utils"
)

// VectorRebuilder repopulates the vector collection from the chunk store.
type VectorRebuilder interface {
	RebuildVectors(ctx context.Context) error
}

// Retriever runs lexical and vector search concurrently and fuses the rankings.
type Retriever struct {
	storage       storage.Storage
	embedder      embedding.Embedder
	keywordIndex  keyword.Index
	vectorStore   vector.Store
	rebuilder     VectorRebuilder
	lexicalWeight float64
	vectorWeight  float64
	logger        *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRebuilder enables the one-shot vector rebuild when the collection is corrupted.
func WithRebuilder(rb VectorRebuilder) Option {
	return func(r *Retriever) { r.rebuilder = rb }
}

// NewRetriever creates a retriever with fusion weights from cfg.
func NewRetriever(
	store storage.Storage,
	embedder embedding.Embedder,
	keywordIndex keyword.Index,
	vectorStore vector.Store,
	cfg config.RetrievalConfig,
	opts ...Option,
) (*Retriever, error) {
	lex, vec := cfg.Weights()
	if lex < 0 || vec < 0 || lex+vec <= 0 {
		return nil, fmt.Errorf("fusion weights must be non-negative with a positive sum (keyword=%v, semantic=%v)", lex, vec)
	}
	r := &Retriever{
		storage:       store,
		embedder:      embedder,
		keywordIndex:  keywordIndex,
		vectorStore:   vectorStore,
		lexicalWeight: lex,
		vectorWeight:  vec,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve returns at most 2k fused results for query. It fails with
// models.ErrEmptyCorpus when nothing is indexed and models.ErrIndexUnavailable
// when the vector store cannot serve the query, even after one rebuild.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]*models.FusedResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	logger := utils.LoggerFor(ctx, r.logger)
	start := time.Now()

	empty, err := r.corpusEmpty(ctx)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, models.ErrEmptyCorpus
	}

	var lexicalIDs, vectorIDs []string
	g, gctx := errgroup.WithContext(ctx)
	if r.lexicalWeight > 0 {
		g.Go(func() error {
			hits, err := r.keywordIndex.Search(gctx, query, k)
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			lexicalIDs = make([]string, 0, len(hits))
			for _, h := range hits {
				lexicalIDs = append(lexicalIDs, h.ID)
			}
			return nil
		})
	}
	if r.vectorWeight > 0 {
		g.Go(func() error {
			ids, err := r.searchVectors(gctx, query, k, logger)
			if err != nil {
				return err
			}
			vectorIDs = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lexical, vectors, err := r.resolve(ctx, lexicalIDs, vectorIDs)
	if err != nil {
		return nil, err
	}
	fused := Fuse(lexical, vectors, r.lexicalWeight, r.vectorWeight)

	logger.Debug("retrieval complete",
		zap.Int("k", k),
		zap.Int("lexical", len(lexical)),
		zap.Int("vector", len(vectors)),
		zap.Int("fused", len(fused)),
		zap.Duration("duration", time.Since(start)),
	)
	return fused, nil
}

// corpusEmpty reports whether both indexes hold zero chunks. When the vector
// collection is corrupted the chunk store decides: with stored chunks the
// search path rebuilds the collection, without them the corpus is empty.
func (r *Retriever) corpusEmpty(ctx context.Context) (bool, error) {
	lexCount, err := r.keywordIndex.DocCount()
	if err != nil {
		return false, fmt.Errorf("keyword index count: %w", err)
	}
	if lexCount > 0 {
		return false, nil
	}
	size, err := r.vectorStore.Size(ctx)
	switch {
	case errors.Is(err, models.ErrIndexCorrupted):
		stored, err := r.storage.CountChunks(ctx)
		if err != nil {
			return false, fmt.Errorf("count stored chunks: %w", err)
		}
		return stored == 0, nil
	case err != nil:
		return false, fmt.Errorf("vector store size: %v: %w", err, models.ErrIndexUnavailable)
	}
	return size == 0, nil
}

// searchVectors embeds the query and searches the vector store. On corruption it
// rebuilds the collection once and retries exactly once.
func (r *Retriever) searchVectors(ctx context.Context, query string, k int, logger *zap.Logger) ([]string, error) {
	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	hits, err := r.vectorStore.Search(ctx, queryEmbedding, k)
	if errors.Is(err, models.ErrIndexCorrupted) && r.rebuilder != nil {
		logger.Warn("vector collection corrupted, rebuilding", zap.Error(err))
		metrics.IndexRebuildsTotal.WithLabelValues("corruption").Inc()
		if rbErr := r.rebuilder.RebuildVectors(ctx); rbErr != nil {
			return nil, fmt.Errorf("vector rebuild failed: %v: %w", rbErr, models.ErrIndexUnavailable)
		}
		hits, err = r.vectorStore.Search(ctx, queryEmbedding, k)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %v: %w", err, models.ErrIndexUnavailable)
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// resolve loads chunks for both ID lists in one store round trip. IDs no longer
// in the store are dropped and the remaining ranks close up.
func (r *Retriever) resolve(ctx context.Context, lexicalIDs, vectorIDs []string) ([]*models.RankedResult, []*models.RankedResult, error) {
	all := make([]string, 0, len(lexicalIDs)+len(vectorIDs))
	all = append(all, lexicalIDs...)
	all = append(all, vectorIDs...)
	if len(all) == 0 {
		return nil, nil, nil
	}
	chunks, err := r.storage.GetChunksByIDs(ctx, all)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	pick := func(ids []string) []*models.Chunk {
		out := make([]*models.Chunk, 0, len(ids))
		for _, id := range ids {
			if c, ok := chunks[id]; ok {
				out = append(out, c)
			}
		}
		return out
	}
	return Rank(pick(lexicalIDs), models.SourceLexical), Rank(pick(vectorIDs), models.SourceVector), nil
}
