package verify

import (
	"strings"

	"github.com/hyperjump/docchat/internal/models"
)

// Render formats a report with the fixed display template. Empty lists and
// empty details are written as "None".
func Render(r *models.VerificationReport) string {
	var b strings.Builder
	line := func(key, value string) {
		b.WriteString("**")
		b.WriteString(key)
		b.WriteString(":** ")
		b.WriteString(value)
		b.WriteString("\n")
	}
	line("Supported", r.Supported)
	line("Unsupported Claims", joinOrNone(r.UnsupportedClaims))
	line("Contradictions", joinOrNone(r.Contradictions))
	line("Relevant", r.Relevant)
	if r.AdditionalDetails == "" {
		line("Additional Details", renderedNone)
	} else {
		line("Additional Details", r.AdditionalDetails)
	}
	return b.String()
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return renderedNone
	}
	return strings.Join(items, ", ")
}
