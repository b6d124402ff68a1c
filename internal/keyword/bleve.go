package keyword

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/hyperjump/docchat/internal/models"
)

const batchSize = 1000

// chunkDoc is the indexed form of a chunk.
type chunkDoc struct {
	Text string `json:"text"`
}

// BleveIndex implements Index with an in-memory Bleve index that is rebuilt
// from the chunk store and replaced wholesale.
type BleveIndex struct {
	mapping mapping.IndexMapping

	buildMu sync.Mutex   // serializes Build
	mu      sync.RWMutex // guards index; searches hold the read lock
	index   bleve.Index
}

// NewBleveIndex creates an empty index.
func NewBleveIndex() (*BleveIndex, error) {
	im := newChunkMapping()
	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{mapping: im, index: index}, nil
}

// newChunkMapping uses the standard analyzer (lowercase + tokenize + stop words, no stemming).
func newChunkMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	textFieldMapping.Store = false
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	im.AddDocumentMapping("chunk", docMapping)
	im.DefaultType = "chunk"
	im.DefaultMapping = docMapping
	return im
}

// Build indexes chunks into a new index, then swaps it in and closes the old one.
func (b *BleveIndex) Build(ctx context.Context, chunks []*models.Chunk) error {
	staged, err := b.Prepare(ctx, chunks)
	if err != nil {
		return err
	}
	staged.Commit()
	return nil
}

// Prepare indexes chunks into a new index. Builds are serialized from Prepare
// until the staged index is committed or discarded.
func (b *BleveIndex) Prepare(ctx context.Context, chunks []*models.Chunk) (Staged, error) {
	b.buildMu.Lock()
	next, err := b.populate(ctx, chunks)
	if err != nil {
		b.buildMu.Unlock()
		return nil, err
	}
	return &stagedIndex{owner: b, next: next}, nil
}

func (b *BleveIndex) populate(ctx context.Context, chunks []*models.Chunk) (bleve.Index, error) {
	next, err := bleve.NewMemOnly(b.mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	batch := next.NewBatch()
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			_ = next.Close()
			return nil, err
		}
		if err := batch.Index(c.ID, chunkDoc{Text: c.Text}); err != nil {
			_ = next.Close()
			return nil, fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
		if batch.Size() >= batchSize {
			if err := next.Batch(batch); err != nil {
				_ = next.Close()
				return nil, fmt.Errorf("Bleve batch failed: %w", err)
			}
			batch.Reset()
		}
	}
	if batch.Size() > 0 {
		if err := next.Batch(batch); err != nil {
			_ = next.Close()
			return nil, fmt.Errorf("Bleve batch failed: %w", err)
		}
	}
	return next, nil
}

// stagedIndex holds owner.buildMu until it is committed or discarded.
type stagedIndex struct {
	owner *BleveIndex
	next  bleve.Index
	once  sync.Once
}

func (s *stagedIndex) Commit() {
	s.once.Do(func() {
		b := s.owner
		b.mu.Lock()
		prev := b.index
		b.index = s.next
		b.mu.Unlock()
		if prev != nil {
			_ = prev.Close()
		}
		b.buildMu.Unlock()
	})
}

func (s *stagedIndex) Discard() {
	s.once.Do(func() {
		_ = s.next.Close()
		s.owner.buildMu.Unlock()
	})
}

// Search runs a match query over chunk text and returns up to limit results.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &Result{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// DocCount returns the number of indexed chunks.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the current index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
