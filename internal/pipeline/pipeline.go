// Package pipeline answers questions: retrieve, gate, synthesize, verify.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/answer"
	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/gate"
	"github.com/hyperjump/docchat/internal/llm"
	"github.com/hyperjump/docchat/internal/metrics"
	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/verify"
	"github.com/hyperjump/docchat/pkg/utils"
)

const stageRetrieve = "retrieve"

// Retriever returns fused evidence for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]*models.FusedResult, error)
}

// Pipeline runs the stages of one question strictly in order.
type Pipeline struct {
	retriever   Retriever
	gate        *gate.Gate
	synthesizer *answer.Synthesizer
	verifier    *verify.Verifier
	k           int
	gateK       int
	logger      *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a pipeline retrieving cfg.K results and gating on the first cfg.GateK.
func New(
	retriever Retriever,
	g *gate.Gate,
	synthesizer *answer.Synthesizer,
	verifier *verify.Verifier,
	cfg config.RetrievalConfig,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		retriever:   retriever,
		gate:        g,
		synthesizer: synthesizer,
		verifier:    verifier,
		k:           cfg.K,
		gateK:       cfg.GateK,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ask answers question. Retrieval and synthesis errors are returned; the gate and
// verifier always produce a result. A NO_MATCH label skips synthesis and
// verification and returns the fixed cannot-answer draft.
func (p *Pipeline) Ask(ctx context.Context, question string) (*models.Answer, error) {
	start := time.Now()
	req := models.AskRequest{Question: question}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	requestID := utils.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = utils.WithRequestID(ctx, requestID)
	}
	logger := utils.LoggerFor(ctx, p.logger)
	logger.Info("question received", zap.Int("question_len", len(question)))

	stageStart := time.Now()
	results, err := p.retriever.Retrieve(ctx, question, p.k)
	observe(stageRetrieve, stageStart)
	if err != nil {
		logger.Error("retrieval failed", zap.Error(err))
		return nil, err
	}
	evidence := models.FusedChunks(results)
	logger.Info("evidence retrieved", zap.Int("chunks", len(evidence)), zap.Duration("duration", time.Since(stageStart)))

	stageStart = time.Now()
	label := p.gate.Classify(ctx, question, evidence, p.gateK)
	observe(llm.StageGate, stageStart)
	logger.Info("relevance classified", zap.String("label", string(label)))

	ans := &models.Answer{
		RequestID: requestID,
		Question:  question,
		Label:     label,
		Evidence:  results,
	}
	if !label.Answerable() {
		ans.Draft = &models.DraftAnswer{
			Text:    models.CannotAnswer,
			Context: utils.JoinParagraphs(models.ChunkTexts(evidence)),
		}
		ans.QueryTime = time.Since(start).Milliseconds()
		logger.Info("question not answerable from evidence", zap.Int64("query_time_ms", ans.QueryTime))
		return ans, nil
	}

	stageStart = time.Now()
	draft, err := p.synthesizer.Generate(ctx, question, evidence)
	observe(llm.StageSynthesis, stageStart)
	if err != nil {
		return nil, err
	}

	stageStart = time.Now()
	report := p.verifier.Check(ctx, draft.Text, evidence)
	observe(llm.StageVerification, stageStart)

	ans.Answered = draft.Text != models.CannotAnswer
	ans.Draft = draft
	ans.Report = report
	ans.Rendered = verify.Render(report)
	ans.QueryTime = time.Since(start).Milliseconds()
	logger.Info("answer complete",
		zap.Bool("answered", ans.Answered),
		zap.String("supported", report.Supported),
		zap.String("relevant", report.Relevant),
		zap.Int64("query_time_ms", ans.QueryTime),
	)
	return ans, nil
}

func observe(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
