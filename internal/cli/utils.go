// Package cli renders docchat results for the terminal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/hyperjump/docchat/internal/indexer"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const separator = "─────────────────────────────────────────────────────────"

var (
	heading = color.New(color.Bold).SprintFunc()
	faint   = color.New(color.Faint).SprintFunc()
)

// ParseOutputFormat validates a -format flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case OutputText, OutputJSON:
		return f, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// LabelColor returns the color used for a relevance label.
func LabelColor(label models.RelevanceLabel) *color.Color {
	switch label {
	case models.CanAnswer:
		return color.New(color.FgGreen, color.Bold)
	case models.Partial:
		return color.New(color.FgYellow, color.Bold)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}

// WriteAnswer writes a pipeline answer to w in the given format.
func WriteAnswer(w io.Writer, ans *models.Answer, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, ans)
	}
	fmt.Fprintf(w, "\n%s %s  %s\n\n", heading("Relevance:"), LabelColor(ans.Label).Sprint(ans.Label),
		faint(fmt.Sprintf("(%dms, request %s)", ans.QueryTime, ans.RequestID)))
	if ans.Draft != nil {
		fmt.Fprintf(w, "%s\n%s\n\n", heading("Answer:"), ans.Draft.Text)
	}
	if ans.Rendered != "" {
		fmt.Fprintf(w, "%s\n%s\n\n", heading("Verification:"), ans.Rendered)
	}
	if len(ans.Evidence) > 0 {
		fmt.Fprintln(w, heading("Evidence:"))
		for i, r := range ans.Evidence {
			writeFused(w, i+1, r)
		}
	}
	return nil
}

// WriteRetrieveResults writes fused retrieval results to w in the given format.
func WriteRetrieveResults(w io.Writer, query string, results []*models.FusedResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"query": query, "results": results, "total": len(results)})
	}
	fmt.Fprintf(w, "\nFound %d results for %q\n\n", len(results), query)
	for i, r := range results {
		writeFused(w, i+1, r)
	}
	return nil
}

func writeFused(w io.Writer, n int, r *models.FusedResult) {
	fmt.Fprintln(w, separator)
	fmt.Fprintf(w, "[%d] Score: %.4f (lexical rank: %s, vector rank: %s)\n",
		n, r.FusedScore, rankString(r.LexicalRank), rankString(r.VectorRank))
	fmt.Fprintf(w, "Chunk: %s  Document: %s\n", r.Chunk.ID, r.Chunk.DocumentID)
	if title, ok := r.Chunk.Metadata["title"].(string); ok && title != "" {
		fmt.Fprintf(w, "Title: %s\n", title)
	}
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Chunk.Text, 200))
}

func rankString(rank int) string {
	if rank < 0 {
		return "-"
	}
	return fmt.Sprintf("%d", rank+1)
}

// WriteStatus writes corpus statistics to w in the given format.
func WriteStatus(w io.Writer, stats *indexer.Stats, diskBytes int64, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{"stats": stats, "disk_usage_bytes": diskBytes})
	}
	fmt.Fprintf(w, "Documents:       %d\n", stats.Documents)
	fmt.Fprintf(w, "Chunks:          %d\n", stats.Chunks)
	fmt.Fprintf(w, "Keyword index:   %d chunks\n", stats.KeywordChunks)
	vectors := fmt.Sprintf("%d", stats.VectorChunks)
	if stats.VectorChunks < 0 {
		vectors = color.RedString("unavailable")
	}
	fmt.Fprintf(w, "Vector index:    %s (%s)\n", vectors, stats.VectorBackend)
	fmt.Fprintf(w, "Disk usage:      %s\n", FormatBytes(diskBytes))
	return nil
}

// FormatBytes renders n as a human-readable size.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
