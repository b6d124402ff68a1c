// Package answer drafts grounded answers from retrieved evidence.
package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/llm"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/pkg/utils"
)

const systemPrompt = "You are an AI assistant designed to provide precise and factual answers based on the given context."

const promptTemplate = `**Instructions:**
- Answer the following question using only the provided context.
- Be clear, concise, and factual.
- Return as much information as you can get from the context.

**Question:** %s
**Context:**
%s

**Provide your answer below:**`

// Synthesizer generates a draft answer from evidence.
type Synthesizer struct {
	completer llm.Completer
	stage     config.StageConfig
	logger    *zap.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSynthesizer creates a synthesizer using stage for temperature and token budget.
func NewSynthesizer(completer llm.Completer, stage config.StageConfig, opts ...Option) *Synthesizer {
	s := &Synthesizer{completer: completer, stage: stage, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate drafts an answer to question from all of evidence. Transport failures
// return an error wrapping models.ErrSynthesis; a malformed or blank reply yields
// the models.CannotAnswer draft.
func (s *Synthesizer) Generate(ctx context.Context, question string, evidence []*models.Chunk) (*models.DraftAnswer, error) {
	logger := utils.LoggerFor(ctx, s.logger).With(zap.String("stage", llm.StageSynthesis))
	evidenceText := utils.JoinParagraphs(models.ChunkTexts(evidence))

	reply, err := s.completer.Complete(ctx, llm.Request{
		Stage:        llm.StageSynthesis,
		SystemPrompt: systemPrompt,
		UserPrompt:   Prompt(question, evidenceText),
		Temperature:  s.stage.TemperatureOrZero(),
		MaxTokens:    s.stage.MaxTokens,
	})
	if err != nil && !errors.Is(err, models.ErrMalformedResponse) {
		logger.Error("answer synthesis failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", models.ErrSynthesis, err)
	}

	text := strings.TrimSpace(reply)
	if err != nil || text == "" {
		logger.Warn("unusable synthesis reply, using fallback answer", zap.Error(err))
		text = models.CannotAnswer
	}
	logger.Debug("draft generated", zap.Int("evidence", len(evidence)), zap.Int("answer_len", len(text)))
	return &models.DraftAnswer{Text: text, Context: evidenceText}, nil
}

// Prompt builds the synthesis request.
func Prompt(question, evidenceText string) string {
	return fmt.Sprintf(promptTemplate, question, evidenceText)
}
