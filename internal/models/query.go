package models

import (
	"fmt"
	"strings"
)

// RetrieveQuery is a retrieval request.
type RetrieveQuery struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

// Validate rejects empty queries and clamps K into [1, maxK], using defaultK when unset.
func (q *RetrieveQuery) Validate(defaultK, maxK int) error {
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}

// AskRequest is a question for the answer pipeline.
type AskRequest struct {
	Question string `json:"question"`
}

// Validate rejects blank questions.
func (r *AskRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("question cannot be empty")
	}
	return nil
}
