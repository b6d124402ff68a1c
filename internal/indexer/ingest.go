package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/models"
)

const (
	metaSourcePath  = "source_path"
	metaSourceMtime = "source_mtime"
	metaSourceSize  = "source_size"
)

// IngestResult reports what IngestFile did.
type IngestResult struct {
	DocumentID string
	Path       string
	Skipped    bool // unchanged since the last ingest
}

// IngestStats summarizes a directory ingest.
type IngestStats struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// IngestFile extracts and stores a file. The document ID comes from the
// absolute path, so re-ingesting a file replaces its previous version. A file
// whose size and modification time match the stored copy is skipped. If
// allowedExts is non-empty the extension must be listed. Files over the size
// limits fail with models.ErrInvalidDocument.
func (idx *Indexer) IngestFile(ctx context.Context, path string, allowedExts []string) (*IngestResult, error) {
	return idx.ingestFile(ctx, path, allowedExts, idx.newBudget())
}

// sizeBudget tracks the bytes left for one ingest call.
type sizeBudget struct {
	remaining int64
}

// newBudget returns nil when total size is unlimited.
func (idx *Indexer) newBudget() *sizeBudget {
	if idx.maxTotalSize <= 0 {
		return nil
	}
	return &sizeBudget{remaining: idx.maxTotalSize}
}

func (idx *Indexer) checkSize(absPath string, size int64, budget *sizeBudget) error {
	if idx.maxFileSize > 0 && size > idx.maxFileSize {
		return fmt.Errorf("%s is %d bytes, limit is %d: %w", absPath, size, idx.maxFileSize, models.ErrInvalidDocument)
	}
	if budget != nil && size > budget.remaining {
		return fmt.Errorf("%s (%d bytes) exceeds the remaining total ingest size of %d bytes: %w",
			absPath, size, budget.remaining, models.ErrInvalidDocument)
	}
	return nil
}

func (idx *Indexer) ingestFile(ctx context.Context, path string, allowedExts []string, budget *sizeBudget) (*IngestResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return nil, fmt.Errorf("extension %q not allowed: %w", ext, models.ErrInvalidDocument)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s: %w", absPath, models.ErrInvalidDocument)
	}

	result := &IngestResult{DocumentID: FileDocumentID(absPath), Path: absPath}
	if idx.unchanged(ctx, result.DocumentID, absPath, info) {
		result.Skipped = true
		idx.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return result, nil
	}
	if err := idx.checkSize(absPath, info.Size(), budget); err != nil {
		return nil, err
	}

	text, err := idx.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", absPath, err)
	}
	_, err = idx.AddDocument(ctx, &models.DocumentInput{
		ID:      result.DocumentID,
		Title:   filepath.Base(absPath),
		Content: text,
		Metadata: map[string]interface{}{
			metaSourcePath: absPath,
			// strings keep nanosecond mtimes exact through JSON
			metaSourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
			metaSourceSize:  strconv.FormatInt(info.Size(), 10),
		},
	})
	if err != nil {
		return nil, err
	}
	if budget != nil {
		budget.remaining -= info.Size()
	}
	idx.logger.Debug("file ingested", zap.String("path", absPath), zap.String("doc_id", result.DocumentID))
	return result, nil
}

// IngestDirectory ingests every allowed regular file under dir. Files that
// fail are logged and counted; the walk continues. Unchanged files do not
// count toward the total size limit.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, allowedExts []string, recursive bool) (*IngestStats, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}

	stats := &IngestStats{}
	budget := idx.newBudget()
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !idx.ingestible(path, allowedExts) {
			return nil
		}
		res, err := idx.ingestFile(ctx, path, allowedExts, budget)
		switch {
		case err != nil:
			stats.Failed++
			idx.logger.Warn("failed to ingest file", zap.String("path", path), zap.Error(err))
		case res.Skipped:
			stats.Skipped++
		default:
			stats.Indexed++
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	idx.logger.Info("directory ingested",
		zap.String("dir", absDir),
		zap.Int("indexed", stats.Indexed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
	)
	return stats, nil
}

// DeleteFile removes the document ingested from path. A path that was never
// ingested is not an error.
func (idx *Indexer) DeleteFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	err = idx.DeleteDocument(ctx, FileDocumentID(absPath))
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}

// Ingestible reports whether path would be picked up by IngestDirectory.
func (idx *Indexer) Ingestible(path string, allowedExts []string) bool {
	return idx.ingestible(path, allowedExts)
}

func (idx *Indexer) ingestible(path string, allowedExts []string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	if len(allowedExts) > 0 {
		return extensionAllowed(ext, allowedExts)
	}
	return idx.extractor.Supports(ext)
}

// unchanged reports whether docID was ingested from absPath with the same size and mtime.
func (idx *Indexer) unchanged(ctx context.Context, docID, absPath string, info os.FileInfo) bool {
	doc, err := idx.storage.GetDocument(ctx, docID)
	if err != nil {
		return false
	}
	return doc.Metadata[metaSourcePath] == absPath &&
		metadataInt64(doc.Metadata, metaSourceMtime) == info.ModTime().UnixNano() &&
		metadataInt64(doc.Metadata, metaSourceSize) == info.Size()
}

func metadataInt64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func extensionAllowed(ext string, allowed []string) bool {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	for _, a := range allowed {
		if strings.TrimPrefix(strings.ToLower(a), ".") == ext {
			return true
		}
	}
	return false
}
