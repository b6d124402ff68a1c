package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/docchat/internal/embedding"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/vector"
)

func benchChunks(n, offset int) []*models.Chunk {
	out := make([]*models.Chunk, n)
	for i := range out {
		out[i] = &models.Chunk{ID: fmt.Sprintf("c%d", i+offset)}
	}
	return out
}

func BenchmarkFuse(b *testing.B) {
	lexical := Rank(benchChunks(100, 0), models.SourceLexical)
	vec := Rank(benchChunks(100, 50), models.SourceVector)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Fuse(lexical, vec, 0.4, 0.6)
	}
}

func BenchmarkFileStoreSearch(b *testing.B) {
	store, err := vector.NewFileStore(b.TempDir(), "bench", 384)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	ids := make([]string, 1000)
	vecs := make([][]float32, 1000)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%d", i)
		vecs[i] = make([]float32, 384)
		vecs[i][0] = float32(i) / 1000
		vecs[i][1] = 1
	}
	if err := store.Rebuild(ctx, ids, vecs); err != nil {
		b.Fatal(err)
	}
	query := make([]float32, 384)
	query[0] = 1
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Search(ctx, query, 10)
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}
