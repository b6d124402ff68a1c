package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/cli"
	"github.com/hyperjump/docchat/internal/models"
)

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{"flags after question are moved first", []string{"what is solar", "-format", "json"}, []string{"-format", "json", "what is solar"}},
		{"flags first returns unchanged", []string{"-format", "json", "what is solar"}, []string{"-format", "json", "what is solar"}},
		{"question only returns unchanged", []string{"what is solar"}, []string{"what is solar"}},
		{"empty args returns unchanged", []string{}, []string{}},
		{"multiple positionals then flags", []string{"one", "two", "-k", "5"}, []string{"-k", "5", "one", "two"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reorderArgs(tt.args); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("reorderArgs() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"solar"}, "solar"},
		{"multiple words", []string{"how", "do", "panels", "work?"}, "how do panels work?"},
		{"quoted phrase", []string{"how do panels work?"}, "how do panels work?"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinArgs(tt.args); got != tt.expected {
				t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "test.db") {
		t.Errorf("database path not expanded relative to config: %s", cfg.Storage.DatabasePath)
	}
}

// newCompletionServer answers each stage by its system prompt.
func newCompletionServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		system := req.Messages[0].Content
		var reply string
		switch {
		case strings.Contains(system, "relevance checker"):
			reply = "CAN_ANSWER"
		case strings.Contains(system, "verify"):
			reply = "Supported: YES\nUnsupported Claims: []\nContradictions: []\nRelevant: YES\nAdditional Details: None"
		default:
			reply = "Solar panels convert sunlight into electricity."
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}))
}

func writeTestConfig(t *testing.T, dir, llmURL string) string {
	t.Helper()
	content := fmt.Sprintf(`
storage:
  database_path: data/db.sqlite
  vector_path: data/vectors
embedding:
  provider: mock
  dimensions: 64
llm:
  provider: openai
  api_key: test-key
  base_url: %s
  model: test-model
retrieval:
  k: 3
  chunk_size: 40
  chunk_overlap: 5
`, llmURL)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEndToEnd_IngestAndAsk(t *testing.T) {
	var calls int32
	llmServer := newCompletionServer(t, &calls)
	defer llmServer.Close()

	dir := t.TempDir()
	cfg, _, err := loadConfig(writeTestConfig(t, dir, llmServer.URL))
	if err != nil {
		t.Fatal(err)
	}
	docs := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docs, 0755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		"solar.txt":  "Solar panels convert sunlight into electricity using photovoltaic cells made of silicon.",
		"bread.md":   "Bread is baked from flour, water, yeast and salt.",
		"ignore.bin": "binary",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(docs, name), []byte(content), 0600); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	c, err := initializeComponents(ctx, cfg, zap.NewNop(), true)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if !errors.Is(ask(ctx, c, "How do solar panels work?", cli.OutputJSON, &bytes.Buffer{}), models.ErrEmptyCorpus) {
		t.Fatal("expected ErrEmptyCorpus before ingest")
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Fatalf("empty corpus must not call the completion service, got %d calls", n)
	}

	stats, err := ingest(ctx, c.Indexer, []string{docs}, cfg.Watch.Extensions, true)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 2 {
		t.Fatalf("indexed = %d, want 2", stats.Indexed)
	}

	var out bytes.Buffer
	if err := ask(ctx, c, "How do solar panels work?", cli.OutputJSON, &out); err != nil {
		t.Fatal(err)
	}
	var ans models.Answer
	if err := json.Unmarshal(out.Bytes(), &ans); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out.String())
	}
	if ans.Label != models.CanAnswer || !ans.Answered {
		t.Errorf("label=%s answered=%v", ans.Label, ans.Answered)
	}
	if ans.Report == nil || ans.Report.Supported != models.Yes || ans.Report.Relevant != models.Yes {
		t.Errorf("unexpected report: %+v", ans.Report)
	}
	if len(ans.Evidence) == 0 || ans.Evidence[0].Chunk.Metadata["title"] != "solar.txt" {
		t.Errorf("top evidence should come from solar.txt, got %+v", ans.Evidence)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected gate, synthesis and verification calls, got %d", n)
	}

	// Reopening loads the persisted vectors and rebuilds the lexical index from storage.
	c.Close()
	reopened, err := initializeComponents(ctx, cfg, zap.NewNop(), false)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	st, err := reopened.Indexer.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Documents != 2 || st.VectorChunks != int(st.Chunks) || st.KeywordChunks != uint64(st.Chunks) {
		t.Errorf("unexpected stats after reopen: %+v", st)
	}
}

func TestInitializeComponents_CorpusOnlyNeedsNoCompletionKey(t *testing.T) {
	dir := t.TempDir()
	cfg, _, err := loadConfig(writeTestConfig(t, dir, "http://127.0.0.1:1"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.LLM.APIKey = ""

	c, err := initializeComponents(context.Background(), cfg, zap.NewNop(), false)
	if err != nil {
		t.Fatalf("corpus commands should not need a completion key: %v", err)
	}
	c.Close()

	if _, err := initializeComponents(context.Background(), cfg, zap.NewNop(), true); err == nil {
		t.Error("answering without a completion key should fail")
	}
}
