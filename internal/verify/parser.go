package verify

import (
	"strings"

	"github.com/hyperjump/docchat/internal/models"
)

type field int

const (
	fieldSupported field = iota
	fieldUnsupportedClaims
	fieldContradictions
	fieldRelevant
	fieldAdditionalDetails
)

var fieldKeys = map[string]field{
	"supported":          fieldSupported,
	"unsupported claims": fieldUnsupportedClaims,
	"contradictions":     fieldContradictions,
	"relevant":           fieldRelevant,
	"additional details": fieldAdditionalDetails,
}

// renderedNone is what Render writes for an empty list or empty details.
const renderedNone = "None"

// Parse decodes the five-field verification format line by line. Each line is
// split on its first colon; keys match case-insensitively and may carry
// markdown emphasis. Lines in the Render template shape parse back to the
// same report.
// Unknown keys are skipped. When a key repeats, the last line wins.
//
// It returns (nil, false) if no line carries a known key. Otherwise every field
// is populated, with absent ones defaulted to NO, an empty list or "".
func Parse(text string) (*models.VerificationReport, bool) {
	report := &models.VerificationReport{}
	var seen [fieldAdditionalDetails + 1]bool
	found := 0

	for _, line := range strings.Split(text, "\n") {
		rawKey, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		rawKey = strings.TrimSpace(rawKey)
		key := strings.ToLower(strings.TrimSpace(strings.Trim(rawKey, "*")))
		f, known := fieldKeys[key]
		if !known {
			continue
		}
		found++
		seen[f] = true

		// Only the exact "**Key:** value" shape written by Render is read back
		// with bracketless lists and "None".
		rendered := strings.HasPrefix(rawKey, "**") && strings.HasPrefix(value, "**")
		if rendered {
			value = strings.TrimPrefix(value, "**")
		}
		value = strings.TrimSpace(value)

		switch f {
		case fieldSupported:
			report.Supported = verdict(value)
		case fieldRelevant:
			report.Relevant = verdict(value)
		case fieldUnsupportedClaims:
			report.UnsupportedClaims = parseList(value, rendered)
		case fieldContradictions:
			report.Contradictions = parseList(value, rendered)
		case fieldAdditionalDetails:
			if rendered && value == renderedNone {
				value = ""
			}
			report.AdditionalDetails = value
		}
	}

	if found == 0 {
		return nil, false
	}
	if !seen[fieldSupported] {
		report.Supported = models.No
	}
	if !seen[fieldRelevant] {
		report.Relevant = models.No
	}
	if report.UnsupportedClaims == nil {
		report.UnsupportedClaims = []string{}
	}
	if report.Contradictions == nil {
		report.Contradictions = []string{}
	}
	return report, true
}

// verdict uppercases the value without checking it against YES/NO.
func verdict(value string) string {
	return strings.ToUpper(strings.TrimSpace(strings.Trim(value, "*")))
}

// parseList splits a bracketed, comma-separated list. Anything else is an empty
// list, except the bracketless form written by Render.
func parseList(value string, rendered bool) []string {
	switch {
	case strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]"):
		return splitItems(value[1 : len(value)-1])
	case rendered && value != renderedNone:
		return splitItems(value)
	default:
		return []string{}
	}
}

func splitItems(s string) []string {
	items := []string{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(strings.Trim(strings.TrimSpace(item), `"'`))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
