package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/docchat/internal/models"
	"github.com/hyperjump/docchat/internal/storage"
	"github.com/hyperjump/docchat/pkg/utils"
)

// maxQueryBody bounds ask and retrieve request bodies.
const maxQueryBody = 1 << 20

type retrieveResponse struct {
	Results   []*models.FusedResult `json:"results"`
	Total     int                   `json:"total"`
	QueryTime int64                 `json:"query_time_ms"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req models.AskRequest
	if !s.decodeBody(w, r, maxQueryBody, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ans, err := s.asker.Ask(r.Context(), req.Question)
	if err != nil {
		s.fail(w, r, "ask failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, ans)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var query models.RetrieveQuery
	if !s.decodeBody(w, r, maxQueryBody, &query) {
		return
	}
	if err := query.Validate(s.config.Retrieval.K, s.config.Retrieval.MaxK); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	results, err := s.retriever.Retrieve(r.Context(), query.Query, query.K)
	if err != nil {
		s.fail(w, r, "retrieve failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, &retrieveResponse{
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if !s.decodeBody(w, r, s.config.Ingest.MaxFileSize, &input) {
		return
	}
	doc, err := s.corpus.AddDocument(r.Context(), &input)
	if err != nil {
		s.fail(w, r, "add document failed", err)
		return
	}
	if err := s.corpus.Rebuild(r.Context()); err != nil {
		s.fail(w, r, "rebuild after add failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": doc.ID, "status": "indexed"})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.corpus.DeleteDocument(r.Context(), id); err != nil {
		s.fail(w, r, "delete document failed", err)
		return
	}
	if err := s.corpus.Rebuild(r.Context()); err != nil {
		s.fail(w, r, "rebuild after delete failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.corpus.Rebuild(r.Context()); err != nil {
		s.fail(w, r, "rebuild failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "rebuilt",
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.corpus.Stats(r.Context())
	if err != nil {
		s.fail(w, r, "status failed", err)
		return
	}
	lexical, vector := s.config.Retrieval.Weights()
	resp := map[string]interface{}{
		"documents":      stats.Documents,
		"chunks":         stats.Chunks,
		"keyword_chunks": stats.KeywordChunks,
		"vector_chunks":  stats.VectorChunks,
		"config": map[string]interface{}{
			"keyword_index":        "bleve",
			"vector_backend":       stats.VectorBackend,
			"embedding_model":      s.config.Embedding.Model,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"llm_model":            s.config.LLM.Model,
			"k":                    s.config.Retrieval.K,
			"keyword_weight":       lexical,
			"semantic_weight":      vector,
			"chunk_size":           s.config.Retrieval.ChunkSize,
			"chunk_overlap":        s.config.Retrieval.Overlap(),
		},
	}
	paths := []string{s.config.Storage.DatabasePath}
	if stats.VectorBackend == "memory" {
		paths = append(paths, s.config.Storage.VectorPath)
	}
	if n, err := storage.DiskUsageBytes(paths...); err == nil {
		resp["disk_usage_bytes"] = n
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrEmptyCorpus):
		return http.StatusConflict
	case errors.Is(err, models.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSynthesis), errors.Is(err, models.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	logger := utils.LoggerFor(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err), zap.Int("status", status))
	} else {
		logger.Debug(msg, zap.Error(err), zap.Int("status", status))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a JSON body of at most limit bytes into dst. On failure
// it writes the error response and returns false.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) bool {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
