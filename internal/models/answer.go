package models

// CannotAnswer is the draft text used when no grounded answer is available.
const CannotAnswer = "I cannot answer this question based on the provided documents."

// Verdict values for VerificationReport.Supported and Relevant.
const (
	Yes = "YES"
	No  = "NO"
)

// DraftAnswer is a synthesized answer plus the evidence context it was generated from.
type DraftAnswer struct {
	Text    string `json:"text"`
	Context string `json:"context"`
}

// VerificationReport is the structured critique of a draft. All fields are always populated.
type VerificationReport struct {
	Supported         string   `json:"supported"`
	UnsupportedClaims []string `json:"unsupported_claims"`
	Contradictions    []string `json:"contradictions"`
	Relevant          string   `json:"relevant"`
	AdditionalDetails string   `json:"additional_details"`
}

// FailedReport returns the conservative report used when verification cannot complete.
func FailedReport(details string) *VerificationReport {
	return &VerificationReport{
		Supported:         No,
		UnsupportedClaims: []string{},
		Contradictions:    []string{},
		Relevant:          No,
		AdditionalDetails: details,
	}
}

// Answer is the pipeline result for one question.
type Answer struct {
	RequestID string              `json:"request_id"`
	Question  string              `json:"question"`
	Label     RelevanceLabel      `json:"label"`
	Answered  bool                `json:"answered"`
	Draft     *DraftAnswer        `json:"draft"`
	Report    *VerificationReport `json:"report,omitempty"`
	Rendered  string              `json:"rendered,omitempty"`
	Evidence  []*FusedResult      `json:"evidence"`
	QueryTime int64               `json:"query_time_ms"`
}
