package models

// Source identifies which ranking produced a RankedResult.
type Source string

const (
	SourceLexical Source = "LEXICAL"
	SourceVector  Source = "VECTOR"
)

// RankedResult is a chunk at a zero-based rank within one source list.
type RankedResult struct {
	Chunk  *Chunk `json:"chunk"`
	Rank   int    `json:"rank"`
	Source Source `json:"source"`
}

// FusedResult is a chunk with its weighted reciprocal-rank score.
// LexicalRank and VectorRank are -1 when the chunk is absent from that list.
type FusedResult struct {
	Chunk       *Chunk  `json:"chunk"`
	FusedScore  float64 `json:"fused_score"`
	LexicalRank int     `json:"lexical_rank"`
	VectorRank  int     `json:"vector_rank"`
}

// FusedChunks returns the chunks of results in fused order.
func FusedChunks(results []*FusedResult) []*Chunk {
	chunks := make([]*Chunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, r.Chunk)
	}
	return chunks
}
