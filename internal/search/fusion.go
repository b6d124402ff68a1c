// Package search provides hybrid retrieval (lexical + vector) and rank fusion.
package search

import (
	"math"
	"sort"

	"github.com/hyperjump/docchat/internal/models"
)

// Rank turns an ordered chunk list into ranked results starting at 0.
func Rank(chunks []*models.Chunk, source models.Source) []*models.RankedResult {
	ranked := make([]*models.RankedResult, 0, len(chunks))
	for i, c := range chunks {
		ranked = append(ranked, &models.RankedResult{Chunk: c, Rank: i, Source: source})
	}
	return ranked
}

// Fuse merges two ranked lists with weighted reciprocal-rank fusion:
//
//	score = lexicalWeight/(lexicalRank+1) + vectorWeight/(vectorRank+1)
//
// A chunk missing from a list contributes 0 for that term. Entries are keyed by
// chunk ID, so the same chunk found by both searches yields one result carrying
// both ranks; distinct chunks with identical text stay separate. Results are
// sorted by score descending, then lexical rank, then vector rank, then the
// order in which chunks were first seen (lexical list first).
func Fuse(lexical, vector []*models.RankedResult, lexicalWeight, vectorWeight float64) []*models.FusedResult {
	byID := make(map[string]*models.FusedResult, len(lexical)+len(vector))
	results := make([]*models.FusedResult, 0, len(lexical)+len(vector))

	entry := func(c *models.Chunk) *models.FusedResult {
		if r, ok := byID[c.ID]; ok {
			return r
		}
		r := &models.FusedResult{Chunk: c, LexicalRank: -1, VectorRank: -1}
		byID[c.ID] = r
		results = append(results, r)
		return r
	}

	for _, r := range lexical {
		e := entry(r.Chunk)
		if e.LexicalRank < 0 || r.Rank < e.LexicalRank {
			e.LexicalRank = r.Rank
		}
	}
	for _, r := range vector {
		e := entry(r.Chunk)
		if e.VectorRank < 0 || r.Rank < e.VectorRank {
			e.VectorRank = r.Rank
		}
	}

	for _, r := range results {
		r.FusedScore = reciprocal(lexicalWeight, r.LexicalRank) + reciprocal(vectorWeight, r.VectorRank)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if la, lb := rankKey(a.LexicalRank), rankKey(b.LexicalRank); la != lb {
			return la < lb
		}
		return rankKey(a.VectorRank) < rankKey(b.VectorRank)
	})
	return results
}

func reciprocal(weight float64, rank int) float64 {
	if rank < 0 {
		return 0
	}
	return weight / float64(rank+1)
}

// rankKey orders absent ranks after every present one.
func rankKey(rank int) int {
	if rank < 0 {
		return math.MaxInt
	}
	return rank
}
