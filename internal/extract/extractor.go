// Package extract turns source files into plain text for ingestion.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hyperjump/docchat/internal/models"
)

// Func extracts text from raw file content.
type Func func(content []byte) (string, error)

// Extractor dispatches on file extension.
type Extractor struct {
	byExt map[string]Func
}

// NewExtractor returns an extractor for plain text (.txt, .md, .rst), PDF, XLSX and DOCX files.
func NewExtractor() *Extractor {
	e := &Extractor{byExt: make(map[string]Func)}
	e.Register(extractPlain, ".txt", ".md", ".rst")
	e.Register(extractPDF, ".pdf")
	e.Register(extractExcel, ".xlsx")
	e.Register(extractDOCX, ".docx")
	return e
}

// Register maps extensions (with or without the leading dot) to fn.
func (e *Extractor) Register(fn Func, exts ...string) {
	for _, ext := range exts {
		e.byExt[normalizeExt(ext)] = fn
	}
}

// Supports reports whether ext has a registered extractor.
func (e *Extractor) Supports(ext string) bool {
	_, ok := e.byExt[normalizeExt(ext)]
	return ok
}

// Extensions returns the registered extensions, sorted.
func (e *Extractor) Extensions() []string {
	exts := make([]string, 0, len(e.byExt))
	for ext := range e.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract reads path and extracts its text by extension.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return e.ExtractBytes(content, filepath.Ext(path))
}

// ExtractBytes extracts text from content. Unknown extensions wrap models.ErrInvalidDocument.
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	fn, ok := e.byExt[normalizeExt(ext)]
	if !ok {
		return "", fmt.Errorf("unsupported file type %q: %w", ext, models.ErrInvalidDocument)
	}
	return fn(content)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
