package search

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/keyword"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/internal/vector"
)

type fakeKeyword struct {
	ids   []string
	calls int
	mu    sync.Mutex
}

func (f *fakeKeyword) Build(ctx context.Context, chunks []*models.Chunk) error { return nil }
func (f *fakeKeyword) Prepare(ctx context.Context, chunks []*models.Chunk) (keyword.Staged, error) {
	return nil, errors.New("not supported")
}
func (f *fakeKeyword) Search(ctx context.Context, query string, limit int) ([]*keyword.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	var out []*keyword.Result
	for i, id := range f.ids {
		if i >= limit {
			break
		}
		out = append(out, &keyword.Result{ID: id, Score: float64(len(f.ids) - i)})
	}
	return out, nil
}
func (f *fakeKeyword) DocCount() (uint64, error) { return uint64(len(f.ids)), nil }
func (f *fakeKeyword) Close() error              { return nil }

// fakeVectors fails searches with searchErr while failures > 0.
type fakeVectors struct {
	mu        sync.Mutex
	ids       []string
	size      int
	searchErr error
	sizeErr   error
	failures  int
	searches  int
}

func (f *fakeVectors) Open(ctx context.Context) error { return nil }
func (f *fakeVectors) Rebuild(ctx context.Context, ids []string, vectors [][]float32) error {
	return nil
}
func (f *fakeVectors) Search(ctx context.Context, query []float32, k int) ([]*vector.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.failures > 0 {
		f.failures--
		return nil, f.searchErr
	}
	var out []*vector.Result
	for i, id := range f.ids {
		if i >= k {
			break
		}
		out = append(out, &vector.Result{ID: id, Score: 1 / float64(i+1)})
	}
	return out, nil
}
func (f *fakeVectors) Size(ctx context.Context) (int, error) { return f.size, f.sizeErr }
func (f *fakeVectors) Type() string                          { return "fake" }
func (f *fakeVectors) Close() error                          { return nil }

type countingRebuilder struct {
	calls int
	err   error
}

func (c *countingRebuilder) RebuildVectors(ctx context.Context) error {
	c.calls++
	return c.err
}

func weights(lex, vec float64) config.RetrievalConfig {
	return config.RetrievalConfig{KeywordWeight: &lex, SemanticWeight: &vec}
}

func seededStore(t *testing.T, ids ...string) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	var cs []*models.Chunk
	for i, id := range ids {
		cs = append(cs, &models.Chunk{ID: id, DocumentID: "doc", Text: "chunk " + id, ChunkIndex: i})
	}
	doc := &models.Document{ID: "doc", Title: "doc", Content: "content"}
	if err := store.SaveDocument(context.Background(), doc, cs); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestNewRetriever_RejectsBadWeights(t *testing.T) {
	for _, w := range [][2]float64{{0, 0}, {-1, 2}, {1, -0.5}} {
		if _, err := NewRetriever(nil, nil, &fakeKeyword{}, &fakeVectors{}, weights(w[0], w[1])); err == nil {
			t.Errorf("weights %v: expected error", w)
		}
	}
}

func TestRetriever_FusesBothSources(t *testing.T) {
	store := seededStore(t, "a", "b", "c")
	kw := &fakeKeyword{ids: []string{"a", "b"}}
	vec := &fakeVectors{ids: []string{"b", "c"}, size: 3}
	r, err := NewRetriever(store, embedding.NewMockEmbedder(8), kw, vec, weights(0.4, 0.6))
	if err != nil {
		t.Fatal(err)
	}

	results, err := r.Retrieve(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got := fmt.Sprint(order(results)); got != "[b a c]" {
		t.Errorf("order = %s, want [b a c]", got)
	}
	if len(results) > 4 {
		t.Errorf("got %d results, want at most 2k", len(results))
	}
	if results[0].Chunk.Text != "chunk b" {
		t.Errorf("chunk not resolved from store: %+v", results[0].Chunk)
	}
	if results[0].LexicalRank != 1 || results[0].VectorRank != 0 {
		t.Errorf("b ranks = %d/%d, want 1/0", results[0].LexicalRank, results[0].VectorRank)
	}
}

func TestRetriever_EachSourceLimitedToK(t *testing.T) {
	store := seededStore(t, "a", "b", "c", "d", "e", "f")
	kw := &fakeKeyword{ids: []string{"a", "b", "c"}}
	vec := &fakeVectors{ids: []string{"d", "e", "f"}, size: 6}
	r, _ := NewRetriever(store, embedding.NewMockEmbedder(8), kw, vec, weights(1, 1))

	results, err := r.Retrieve(context.Background(), "q", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Errorf("got %d results, want 4", len(results))
	}
}

func TestRetriever_EmptyCorpus(t *testing.T) {
	store := seededStore(t)
	r, _ := NewRetriever(store, embedding.NewMockEmbedder(8), &fakeKeyword{}, &fakeVectors{}, weights(0.4, 0.6))

	_, err := r.Retrieve(context.Background(), "anything", 3)
	if !errors.Is(err, models.ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestRetriever_ZeroWeightSkipsSearch(t *testing.T) {
	store := seededStore(t, "a", "b")
	kw := &fakeKeyword{ids: []string{"a"}}
	vec := &fakeVectors{ids: []string{"b"}, size: 2}
	r, _ := NewRetriever(store, embedding.NewMockEmbedder(8), kw, vec, weights(0, 1))

	results, err := r.Retrieve(context.Background(), "q", 3)
	if err != nil {
		t.Fatal(err)
	}
	if kw.calls != 0 {
		t.Errorf("keyword search ran %d times with zero weight", kw.calls)
	}
	if got := fmt.Sprint(order(results)); got != "[b]" {
		t.Errorf("order = %s, want [b]", got)
	}
}

func TestRetriever_RebuildsOnceOnCorruption(t *testing.T) {
	store := seededStore(t, "a")
	vec := &fakeVectors{ids: []string{"a"}, size: 1, searchErr: fmt.Errorf("bad magic: %w", models.ErrIndexCorrupted), failures: 1}
	rb := &countingRebuilder{}
	r, _ := NewRetriever(store, embedding.NewMockEmbedder(8), &fakeKeyword{}, vec, weights(0, 1), WithRebuilder(rb))

	results, err := r.Retrieve(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if rb.calls != 1 {
		t.Errorf("rebuild calls = %d, want 1", rb.calls)
	}
	if vec.searches != 2 {
		t.Errorf("vector searches = %d, want 2", vec.searches)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestRetriever_CorruptedCollectionWithEmptyStore(t *testing.T) {
	store := seededStore(t)
	corrupt := fmt.Errorf("bad magic: %w", models.ErrIndexCorrupted)
	vec := &fakeVectors{sizeErr: corrupt, searchErr: corrupt, failures: 1}
	rb := &countingRebuilder{}
	r, _ := NewRetriever(store, embedding.NewMockEmbedder(8), &fakeKeyword{}, vec, weights(0.4, 0.6), WithRebuilder(rb))

	_, err := r.Retrieve(context.Background(), "q", 3)
	if !errors.Is(err, models.ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
	if rb.calls != 0 || vec.searches != 0 {
		t.Errorf("rebuilds=%d searches=%d, want none for an empty corpus", rb.calls, vec.searches)
	}
}

func TestRetriever_CorruptedCollectionWithStoredChunks(t *testing.T) {
	store := seededStore(t, "a")
	corrupt := fmt.Errorf("bad magic: %w", models.ErrIndexCorrupted)
	vec := &fakeVectors{ids: []string{"a"}, sizeErr: corrupt, searchErr: corrupt, failures: 1}
	rb := &countingRebuilder{}
	r, _ := NewRetriever(store, embedding.NewMockEmbedder(8), &fakeKeyword{}, vec, weights(0, 1), WithRebuilder(rb))

	results, err := r.Retrieve(context.Background(), "q", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if rb.calls != 1 || len(results) != 1 {
		t.Errorf("rebuilds=%d results=%d, want 1 and 1", rb.calls, len(results))
	}
}

func TestRetriever_StillCorruptedAfterRebuild(t *testing.T) {
	store := seededStore(t, "a")
	vec := &fakeVectors{size: 1, searchErr: fmt.Errorf("truncated: %w", models.ErrIndexCorrupted), failures: 5}
	rb := &countingRebuilder{}
	r, _ := NewRetriever(store, embedding.NewMockEmbedder(8), &fakeKeyword{}, vec, weights(0, 1), WithRebuilder(rb))

	_, err := r.Retrieve(context.Background(), "q", 3)
	if !errors.Is(err, models.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
	if rb.calls != 1 || vec.searches != 2 {
		t.Errorf("rebuilds=%d searches=%d, want exactly one retry", rb.calls, vec.searches)
	}
}

func TestRetriever_UnreachableVectorStore(t *testing.T) {
	store := seededStore(t, "a")
	vec := &fakeVectors{size: 1, searchErr: errors.New("connection refused"), failures: 1}
	rb := &countingRebuilder{}
	r, _ := NewRetriever(store, embedding.NewMockEmbedder(8), &fakeKeyword{ids: []string{"a"}}, vec, weights(0.5, 0.5), WithRebuilder(rb))

	_, err := r.Retrieve(context.Background(), "q", 3)
	if !errors.Is(err, models.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
	if rb.calls != 0 {
		t.Error("a connection failure must not trigger a rebuild")
	}
}

func TestRetriever_SkipsChunksMissingFromStore(t *testing.T) {
	store := seededStore(t, "a")
	kw := &fakeKeyword{ids: []string{"gone", "a"}}
	r, _ := NewRetriever(store, embedding.NewMockEmbedder(8), kw, &fakeVectors{}, weights(1, 0))

	results, err := r.Retrieve(context.Background(), "q", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "a" || results[0].LexicalRank != 0 {
		t.Errorf("unexpected results: %v", order(results))
	}
}

func TestRetriever_InvalidK(t *testing.T) {
	r, _ := NewRetriever(nil, nil, &fakeKeyword{}, &fakeVectors{}, weights(1, 1))
	if _, err := r.Retrieve(context.Background(), "q", 0); err == nil {
		t.Error("expected error for k=0")
	}
}

func TestRetriever_WithRealIndexes(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	doc := &models.Document{ID: "d1", Title: "d1", Content: "c"}
	cs := []*models.Chunk{
		{ID: "d1_0", DocumentID: "d1", Text: "machine learning algorithms for classification"},
		{ID: "d1_1", DocumentID: "d1", Text: "baking sourdough bread at home", ChunkIndex: 1},
	}
	if err := store.SaveDocument(ctx, doc, cs); err != nil {
		t.Fatal(err)
	}

	kw, err := keyword.NewBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer kw.Close()
	if err := kw.Build(ctx, cs); err != nil {
		t.Fatal(err)
	}

	emb := embedding.NewMockEmbedder(32)
	vecs, err := emb.EmbedBatch(ctx, models.ChunkTexts(cs))
	if err != nil {
		t.Fatal(err)
	}
	vs, err := vector.NewFileStore(t.TempDir(), "documents", 32)
	if err != nil {
		t.Fatal(err)
	}
	if err := vs.Rebuild(ctx, []string{"d1_0", "d1_1"}, vecs); err != nil {
		t.Fatal(err)
	}

	r, err := NewRetriever(store, emb, kw, vs, weights(0.4, 0.6))
	if err != nil {
		t.Fatal(err)
	}
	results, err := r.Retrieve(ctx, "machine learning", 1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) == 0 || results[0].Chunk.ID != "d1_0" {
		t.Errorf("expected d1_0 first, got %v", order(results))
	}
}
