// Package verify checks a draft answer against its evidence and decodes the
// service's five-field verification reply.
package verify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/llm"
	"github.com/hyperjump/docchat/internal/metrics"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/pkg/utils"
)

// Details of the conservative reports returned when verification cannot complete.
const (
	DetailsInvalidResponse = "Invalid response structure from the model."
	DetailsEmptyResponse   = "Empty response from the model."
	DetailsParseFailure    = "Failed to parse the model's response."
)

const systemPrompt = "You are an AI assistant designed to verify the accuracy and relevance of answers based on the provided context."

const promptTemplate = `**Instructions:**
- Verify the following answer against the provided context.
- Check for:
1. Direct/indirect factual support (YES/NO)
2. Unsupported claims (list any if present)
3. Contradictions (list any if present)
4. Relevance to the question (YES/NO)
- Provide additional details or explanations where relevant.
- Respond in the exact format specified below without adding any unrelated information.

**Format:**
Supported: YES/NO
Unsupported Claims: [item1, item2, ...]
Contradictions: [item1, item2, ...]
Relevant: YES/NO
Additional Details: [Any extra information or explanations]

**Answer:** %s
**Context:**
%s

**Respond ONLY with the above format.**`

// Verifier critiques answers with the completion service. It never fails.
type Verifier struct {
	completer llm.Completer
	stage     config.StageConfig
	logger    *zap.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// NewVerifier creates a verifier using stage for temperature and token budget.
func NewVerifier(completer llm.Completer, stage config.StageConfig, opts ...Option) *Verifier {
	v := &Verifier{completer: completer, stage: stage, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Check verifies answer against all of evidence. Service errors, blank replies
// and unparsable replies each produce a fixed NO/NO report.
func (v *Verifier) Check(ctx context.Context, answer string, evidence []*models.Chunk) *models.VerificationReport {
	logger := utils.LoggerFor(ctx, v.logger).With(zap.String("stage", llm.StageVerification))

	reply, err := v.completer.Complete(ctx, llm.Request{
		Stage:        llm.StageVerification,
		SystemPrompt: systemPrompt,
		UserPrompt:   Prompt(answer, utils.JoinParagraphs(models.ChunkTexts(evidence))),
		Temperature:  v.stage.TemperatureOrZero(),
		MaxTokens:    v.stage.MaxTokens,
	})
	if err != nil {
		logger.Warn("verification request failed", zap.Error(err))
		return failed("invalid_response", DetailsInvalidResponse)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		logger.Warn("verification reply is empty")
		return failed("empty_response", DetailsEmptyResponse)
	}

	report, ok := Parse(reply)
	if !ok {
		logger.Warn("verification reply not in the expected format", zap.String("reply", utils.Truncate(reply, 120)))
		return failed("parse_failure", DetailsParseFailure)
	}

	logger.Debug("answer verified",
		zap.String("supported", report.Supported),
		zap.String("relevant", report.Relevant),
		zap.Int("unsupported_claims", len(report.UnsupportedClaims)),
		zap.Int("contradictions", len(report.Contradictions)),
	)
	return report
}

func failed(tier, details string) *models.VerificationReport {
	metrics.VerificationFailuresTotal.WithLabelValues(tier).Inc()
	return models.FailedReport(details)
}

// Prompt builds the verification request.
func Prompt(answer, evidenceText string) string {
	return fmt.Sprintf(promptTemplate, answer, evidenceText)
}
