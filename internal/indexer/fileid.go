package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// FileDocumentID returns the stable document ID of a source file. The path is
// cleaned first, so equivalent spellings of one path share an ID.
func FileDocumentID(absPath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(absPath)))
	return "file_" + hex.EncodeToString(sum[:16])
}
