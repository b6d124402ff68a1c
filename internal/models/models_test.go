package models

import "testing"

func TestParseRelevanceLabel(t *testing.T) {
	tests := []struct {
		in     string
		want   RelevanceLabel
		wantOK bool
	}{
		{"CAN_ANSWER", CanAnswer, true},
		{"  partial\n", Partial, true},
		{"no_match", NoMatch, true},
		{"MAYBE", NoMatch, false},
		{"", NoMatch, false},
		{"CAN ANSWER", NoMatch, false},
		{"CAN_ANSWER.", NoMatch, false},
	}
	for _, tt := range tests {
		got, ok := ParseRelevanceLabel(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseRelevanceLabel(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestRelevanceLabel_Confidence(t *testing.T) {
	if !(CanAnswer.Confidence() > Partial.Confidence() && Partial.Confidence() > NoMatch.Confidence()) {
		t.Error("expected CAN_ANSWER > PARTIAL > NO_MATCH")
	}
	if RelevanceLabel("bogus").Confidence() != NoMatch.Confidence() {
		t.Error("unknown label should rank with NO_MATCH")
	}
	if NoMatch.Answerable() || !Partial.Answerable() || !CanAnswer.Answerable() {
		t.Error("unexpected Answerable result")
	}
}

func TestRetrieveQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *RetrieveQuery
		wantErr bool
		wantK   int
	}{
		{"empty query", &RetrieveQuery{Query: ""}, true, 0},
		{"default k", &RetrieveQuery{Query: "x"}, false, 10},
		{"caps k", &RetrieveQuery{Query: "x", K: 500}, false, 50},
		{"keeps k", &RetrieveQuery{Query: "x", K: 3}, false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(10, 50)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.K != tt.wantK {
				t.Errorf("K = %d, want %d", tt.query.K, tt.wantK)
			}
		})
	}
}

func TestFailedReport(t *testing.T) {
	r := FailedReport("x")
	if r.Supported != No || r.Relevant != No || r.AdditionalDetails != "x" {
		t.Errorf("unexpected report %+v", r)
	}
	if r.UnsupportedClaims == nil || r.Contradictions == nil {
		t.Error("lists should be non-nil")
	}
}
