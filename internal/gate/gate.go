// Package gate classifies whether retrieved evidence can answer a question before any generation runs.
package gate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/llm"
	"github.com/hyperjump/docchat/internal/metrics"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/pkg/utils"
)

const systemPrompt = "You are an AI relevance checker between a user's question and provided document content."

const promptTemplate = `**Instructions:**
- Classify how well the document content addresses the user's question.
- Respond with only one of the following labels: CAN_ANSWER, PARTIAL, NO_MATCH.
- Do not include any additional text or explanation.

**Labels:**
1) "CAN_ANSWER": The passages contain enough explicit information to fully answer the question.
2) "PARTIAL": The passages mention or discuss the question's topic but do not provide all the details needed for a complete answer.
3) "NO_MATCH": The passages do not discuss or mention the question's topic at all.

**Important:** If the passages mention or reference the topic or timeframe of the question in any way, even if incomplete, respond with "PARTIAL" instead of "NO_MATCH".

**Question:** %s
**Passages:** %s

**Respond ONLY with one of the following labels: CAN_ANSWER, PARTIAL, NO_MATCH**`

// Gate asks the completion service for a relevance label. It never fails:
// every error or unrecognized reply becomes NO_MATCH.
type Gate struct {
	completer llm.Completer
	stage     config.StageConfig
	logger    *zap.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a gate using stage for temperature and token budget.
func New(completer llm.Completer, stage config.StageConfig, opts ...Option) *Gate {
	g := &Gate{completer: completer, stage: stage, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Classify labels the first k evidence chunks against question; k <= 0 uses all of them.
// Empty evidence returns NO_MATCH without calling the service.
func (g *Gate) Classify(ctx context.Context, question string, evidence []*models.Chunk, k int) models.RelevanceLabel {
	logger := utils.LoggerFor(ctx, g.logger).With(zap.String("stage", llm.StageGate))

	if len(evidence) == 0 {
		logger.Debug("no evidence, skipping relevance check")
		return g.degrade("no_evidence")
	}
	if k > 0 && k < len(evidence) {
		evidence = evidence[:k]
	}

	reply, err := g.completer.Complete(ctx, llm.Request{
		Stage:        llm.StageGate,
		SystemPrompt: systemPrompt,
		UserPrompt:   Prompt(question, evidence),
		Temperature:  g.stage.TemperatureOrZero(),
		MaxTokens:    g.stage.MaxTokens,
	})
	if err != nil {
		logger.Warn("relevance check failed, using NO_MATCH", zap.Error(err))
		return g.degrade("error")
	}

	label, ok := models.ParseRelevanceLabel(reply)
	if !ok {
		logger.Warn("unrecognized relevance label, using NO_MATCH", zap.String("reply", utils.Truncate(reply, 64)))
		return g.degrade("unrecognized")
	}

	metrics.GateLabelsTotal.WithLabelValues(string(label)).Inc()
	logger.Debug("relevance classified", zap.String("label", string(label)), zap.Int("evidence", len(evidence)))
	return label
}

func (g *Gate) degrade(reason string) models.RelevanceLabel {
	metrics.GateDegradedTotal.WithLabelValues(reason).Inc()
	metrics.GateLabelsTotal.WithLabelValues(string(models.NoMatch)).Inc()
	return models.NoMatch
}

// Prompt builds the classification request for question over evidence.
func Prompt(question string, evidence []*models.Chunk) string {
	return fmt.Sprintf(promptTemplate, question, utils.JoinParagraphs(models.ChunkTexts(evidence)))
}
