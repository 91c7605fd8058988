// Package server provides the HTTP API for the store assistant.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/dalil/internal/config"
	"github.com/hyperjump/dalil/internal/index"
	"github.com/hyperjump/dalil/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Chatter answers one dialogue turn.
type Chatter interface {
	HandleTurn(ctx context.Context, sessionID, message string) (string, error)
}

// Retrieval ingests documents and runs raw retrieval queries.
type Retrieval interface {
	Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResponse, error)
	Query(ctx context.Context, query string, topK int, filter map[string]interface{}) ([]*models.QueryResult, error)
}

// TurnLog reads stored conversation turns.
type TurnLog interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]models.Turn, error)
	CountAll(ctx context.Context) (int64, error)
}

// IndexStats reports on the chunk index.
type IndexStats interface {
	Count() int
	Documents(ctx context.Context) ([]*models.Document, error)
	Dimensions() int
	Paths() index.Paths
}

// Deps are the components the server exposes.
type Deps struct {
	Chat      Chatter
	Retrieval Retrieval
	Memory    TurnLog
	Index     IndexStats
	Config    *config.Config
}

// Server is the HTTP server for the assistant API.
type Server struct {
	deps    Deps
	config  *config.ServerConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		config: &deps.Config.Server,
		logger: logger,
	}
	if rl := s.config.RateLimit; rl.RequestsPerSecond > 0 {
		burst := rl.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
	}
	return s
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	timeout := time.Duration(s.config.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.With(s.rateLimit).Post("/chat", s.handleChat)
	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/ingest", s.handleIngest)
		r.Post("/query", s.handleQuery)
		r.Get("/sessions/{id}/messages", s.handleSessionMessages)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.logger.Warn("chat rate limited", zap.String("remote", r.RemoteAddr))
			s.respondJSON(w, http.StatusTooManyRequests, models.ChatResponse{Reply: chatUnavailable})
			return
		}
		next.ServeHTTP(w, r)
	})
}
