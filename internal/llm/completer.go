// Package llm provides the text completion client used by the gate, synthesis and verification stages.
package llm

import "context"

// Stage names label completion calls in logs and metrics.
const (
	StageGate         = "gate"
	StageSynthesis    = "synthesis"
	StageVerification = "verification"
)

// Request is a single non-streaming completion call.
type Request struct {
	Stage        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// Completer returns the full reply text for a request. Unreachable or failing
// services and timeouts wrap models.ErrTransport; replies without a message
// wrap models.ErrMalformedResponse.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
