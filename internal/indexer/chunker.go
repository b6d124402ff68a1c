package indexer

import (
	"fmt"
	"strings"

	"github.com/hyperjump/docchat/internal/models"
)

// Chunker splits text into overlapping word windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with size and overlap counted in words.
// Overlap is clamped so every window advances by at least one word.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits text into chunks of docID. Chunk IDs are derived from the
// document ID and position, so re-ingesting identical text yields identical IDs.
func (c *Chunker) Chunk(docID, text string) []*models.Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.size - c.overlap
	chunks := make([]*models.Chunk, 0, (len(words)+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := min(start+c.size, len(words))
		idx := len(chunks)
		chunks = append(chunks, &models.Chunk{
			ID:         ChunkID(docID, idx),
			DocumentID: docID,
			Text:       strings.Join(words[start:end], " "),
			ChunkIndex: idx,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}

// ChunkID returns the ID of the chunk at index of document docID.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", docID, index)
}
