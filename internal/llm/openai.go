package llm

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/metrics"
	"github.com/hyperjump/docchat/internal/models"
)

// OpenAIClient calls an OpenAI-compatible or Azure OpenAI chat completions endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIClient creates a chat client from cfg. For Azure, Model is the deployment name.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api key is not set (DOCCHAT_LLM_API_KEY, OPENAI_API_KEY or AZURE_OPENAI_API_KEY)")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var clientCfg openai.ClientConfig
	switch cfg.Provider {
	case "azure":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("azure completions require base_url (AZURE_OPENAI_ENDPOINT)")
		}
		clientCfg = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
		if cfg.APIVersion != "" {
			clientCfg.APIVersion = cfg.APIVersion
		}
		clientCfg.AzureModelMapperFunc = func(model string) string { return model }
	case "openai", "":
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientCfg.BaseURL = cfg.BaseURL
		}
	default:
		return nil, fmt.Errorf("unknown llm provider: %s (supported: openai, azure)", cfg.Provider)
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Complete sends a system + user message pair and returns the first choice's content.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: temperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	metrics.CompletionRequestDuration.WithLabelValues(req.Stage).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(req.Stage, "error").Inc()
		return "", WrapAPIError("completion", err)
	}
	if len(resp.Choices) == 0 {
		metrics.CompletionRequestsTotal.WithLabelValues(req.Stage, "malformed").Inc()
		return "", fmt.Errorf("completion reply has no choices: %w", models.ErrMalformedResponse)
	}

	metrics.CompletionRequestsTotal.WithLabelValues(req.Stage, "success").Inc()
	metrics.CompletionTokensTotal.WithLabelValues(req.Stage, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.CompletionTokensTotal.WithLabelValues(req.Stage, "completion").Add(float64(resp.Usage.CompletionTokens))
	c.logger.Debug("completion received",
		zap.String("stage", req.Stage),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// temperature maps 0 to the smallest positive float32, since go-openai omits a zero temperature
// and the service would then apply its default.
func temperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
