package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/dalil/internal/chat"
	"github.com/hyperjump/dalil/internal/index"
	"github.com/hyperjump/dalil/internal/models"
	"go.uber.org/zap"
)

const (
	chatUnavailable     = chat.ReplyUnavailable
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reply, err := s.deps.Chat.HandleTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.logger.Error("chat turn failed", zap.String("session_id", req.SessionID), zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, models.ChatResponse{Reply: chatUnavailable})
		return
	}
	s.respondJSON(w, http.StatusOK, models.ChatResponse{Reply: reply})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := CollectStatus(r.Context(), s.deps.Index, s.deps.Memory, s.deps.Config)
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" && req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "text or path is required")
		return
	}
	if req.Path != "" {
		path, err := s.sourcePath(req.Path)
		if err != nil {
			s.logger.Warn("ingest path rejected", zap.String("path", req.Path), zap.Error(err))
			s.respondError(w, http.StatusForbidden, "path outside the source directory")
			return
		}
		req.Path = path
	}
	s.logger.Debug("ingest request", zap.String("doc_id", req.DocID), zap.String("path", req.Path))
	resp, err := s.deps.Retrieval.Ingest(r.Context(), req)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, index.ErrEmptyDocID):
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, resp)
}

// sourcePath resolves p against the directory of the configured source file and
// returns an error when the result, after following symlinks, lies outside it.
func (s *Server) sourcePath(p string) (string, error) {
	root, err := filepath.Abs(filepath.Dir(s.deps.Config.Source.Path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve source directory: %w", err)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(evalSymlinks(root), evalSymlinks(p))
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", p, root)
	}
	return p, nil
}

// evalSymlinks returns p with symlinks resolved. A missing file keeps its name under
// its resolved parent.
func evalSymlinks(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	if dir := filepath.Dir(p); dir != p {
		return filepath.Join(evalSymlinks(dir), filepath.Base(p))
	}
	return p
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q models.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := q.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	start := time.Now()
	results, err := s.deps.Retrieval.Query(r.Context(), q.Query, q.TopK, q.Filter)
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.QueryResponse{
		Query:     q.Query,
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	turns, err := s.deps.Memory.Recent(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("history failed", zap.String("session_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"session_id": id, "messages": turns})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
