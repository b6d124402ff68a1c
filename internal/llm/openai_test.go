package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/models"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func newChatServer(t *testing.T, reply string, requests *[]chatRequest) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		*requests = append(*requests, req)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
		})
	}))
}

func testLLMConfig(url string) config.LLMConfig {
	return config.LLMConfig{Provider: "openai", APIKey: "test-key", BaseURL: url, Model: "test-model", Timeout: 5 * time.Second}
}

func TestOpenAIClient_Complete(t *testing.T) {
	var requests []chatRequest
	server := newChatServer(t, "CAN_ANSWER", &requests)
	defer server.Close()

	c, err := NewOpenAIClient(testLLMConfig(server.URL), nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := c.Complete(context.Background(), Request{
		Stage: StageGate, SystemPrompt: "sys", UserPrompt: "user", Temperature: 0, MaxTokens: 10,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "CAN_ANSWER" {
		t.Errorf("reply = %q", out)
	}
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	req := requests[0]
	if req.Model != "test-model" || req.MaxTokens != 10 {
		t.Errorf("unexpected request: %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[0].Content != "sys" ||
		req.Messages[1].Role != "user" || req.Messages[1].Content != "user" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
	if req.Temperature == nil {
		t.Fatal("temperature 0 must still be sent")
	}
	if *req.Temperature > 1e-6 {
		t.Errorf("temperature = %v, want ~0", *req.Temperature)
	}
}

func TestOpenAIClient_NoChoicesIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	}))
	defer server.Close()

	c, _ := NewOpenAIClient(testLLMConfig(server.URL), nil)
	_, err := c.Complete(context.Background(), Request{Stage: StageSynthesis, UserPrompt: "q"})
	if !errors.Is(err, models.ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestOpenAIClient_ServerErrorIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer server.Close()

	c, _ := NewOpenAIClient(testLLMConfig(server.URL), nil)
	_, err := c.Complete(context.Background(), Request{Stage: StageVerification, UserPrompt: "q"})
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestOpenAIClient_UnreachableIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c, _ := NewOpenAIClient(testLLMConfig(url), nil)
	_, err := c.Complete(context.Background(), Request{Stage: StageGate, UserPrompt: "q"})
	if !errors.Is(err, models.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestNewOpenAIClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LLMConfig
	}{
		{"missing key", config.LLMConfig{Provider: "openai"}},
		{"azure without endpoint", config.LLMConfig{Provider: "azure", APIKey: "k"}},
		{"unknown provider", config.LLMConfig{Provider: "ollama", APIKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewOpenAIClient(tt.cfg, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTemperature(t *testing.T) {
	if temperature(0) <= 0 {
		t.Error("zero temperature must map to a positive value")
	}
	if temperature(0.3) != float32(0.3) {
		t.Errorf("temperature(0.3) = %v", temperature(0.3))
	}
}
