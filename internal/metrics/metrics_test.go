package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegister_Idempotent(t *testing.T) {
	Register()
	Register()

	GateLabelsTotal.WithLabelValues("PARTIAL").Inc()
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "docchat_gate_labels_total" {
			found = true
		}
	}
	if !found {
		t.Error("gate labels metric not registered")
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(VerificationFailuresTotal.WithLabelValues("empty"))
	VerificationFailuresTotal.WithLabelValues("empty").Inc()
	if got := testutil.ToFloat64(VerificationFailuresTotal.WithLabelValues("empty")); got != before+1 {
		t.Errorf("counter = %v, want %v", got, before+1)
	}

	IndexedChunks.Set(42)
	expected := `
# HELP docchat_indexed_chunks Chunks in the current index snapshot
# TYPE docchat_indexed_chunks gauge
docchat_indexed_chunks 42
`
	if err := testutil.CollectAndCompare(IndexedChunks, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}
}
