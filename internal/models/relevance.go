package models

import "strings"

// RelevanceLabel is the gate's verdict on whether evidence can support an answer.
type RelevanceLabel string

const (
	CanAnswer RelevanceLabel = "CAN_ANSWER"
	Partial   RelevanceLabel = "PARTIAL"
	NoMatch   RelevanceLabel = "NO_MATCH"
)

// Confidence orders labels: CAN_ANSWER > PARTIAL > NO_MATCH. Unknown labels rank with NO_MATCH.
func (l RelevanceLabel) Confidence() int {
	switch l {
	case CanAnswer:
		return 2
	case Partial:
		return 1
	default:
		return 0
	}
}

// Answerable reports whether synthesis should run for this label.
func (l RelevanceLabel) Answerable() bool {
	return l == CanAnswer || l == Partial
}

// ParseRelevanceLabel trims and uppercases s and reports whether it is exactly one of the three labels.
func ParseRelevanceLabel(s string) (RelevanceLabel, bool) {
	switch l := RelevanceLabel(strings.ToUpper(strings.TrimSpace(s))); l {
	case CanAnswer, Partial, NoMatch:
		return l, true
	}
	return NoMatch, false
}
