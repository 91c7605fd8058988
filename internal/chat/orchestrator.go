// Package chat runs one customer turn: remember it, retrieve store context, ask the model, remember the reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/dalil/internal/models"
	"go.uber.org/zap"
)

// Errors wrapped around collaborator failures so callers can tell them apart with errors.Is.
var (
	ErrRetrieval  = errors.New("retrieval failed")
	ErrMemory     = errors.New("conversation memory failed")
	ErrCompletion = errors.New("completion failed")
)

const (
	DefaultTopK         = 3
	DefaultHistoryLimit = 10
)

// Retriever supplies store context for a question.
type Retriever interface {
	RetrieveContext(ctx context.Context, query string, topK int) (string, error)
}

// Memory is the per-session turn log.
type Memory interface {
	Append(ctx context.Context, sessionID string, role models.Role, content string) (int64, error)
	Recent(ctx context.Context, sessionID string, limit int) ([]models.Turn, error)
}

// Completer produces the assistant reply.
type Completer interface {
	Complete(ctx context.Context, messages []models.Message) (string, error)
}

// Orchestrator handles dialogue turns. It holds no per-session state, so turns of different
// sessions may run concurrently.
type Orchestrator struct {
	retriever     Retriever
	memory        Memory
	completer     Completer
	topK          int
	historyLimit  int
	systemPrompt  string
	contextPrompt string
	logger        *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTopK sets how many chunks are retrieved per turn.
func WithTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithHistoryLimit sets how many recent turns are sent to the model, including the new question.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyLimit = n
		}
	}
}

// WithPrompts replaces the persona and context-injection prompts.
func WithPrompts(system, contextPrefix string) Option {
	return func(o *Orchestrator) {
		o.systemPrompt = system
		o.contextPrompt = contextPrefix
	}
}

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires the collaborators of a turn.
func NewOrchestrator(r Retriever, m Memory, c Completer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		retriever:     r,
		memory:        m,
		completer:     c,
		topK:          DefaultTopK,
		historyLimit:  DefaultHistoryLimit,
		systemPrompt:  SystemPrompt,
		contextPrompt: ContextPrompt,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// BuildMessages returns the prompt sequence: persona, context injection (always present, even
// with empty context), then history in chronological order.
func (o *Orchestrator) BuildMessages(contextText string, history []models.Turn) []models.Message {
	msgs := make([]models.Message, 0, len(history)+2)
	msgs = append(msgs,
		models.Message{Role: models.RoleSystem, Content: o.systemPrompt},
		models.Message{Role: models.RoleSystem, Content: o.contextPrompt + contextText},
	)
	for _, t := range history {
		msgs = append(msgs, models.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// HandleTurn answers message within sessionID. A blank session id or message returns a fixed
// clarification without touching memory, retrieval or the model. Otherwise the user turn is
// stored before retrieval and the reply is stored before it is returned.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, message string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	message = strings.TrimSpace(message)
	if sessionID == "" {
		return ReplyMissingSession, nil
	}
	if message == "" {
		return ReplyEmptyMessage, nil
	}
	log := o.logger.With(zap.String("session_id", sessionID))

	if _, err := o.memory.Append(ctx, sessionID, models.RoleUser, message); err != nil {
		return "", fmt.Errorf("%w: failed to store user turn: %w", ErrMemory, err)
	}

	contextText, err := o.retriever.RetrieveContext(ctx, message, o.topK)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	if contextText == "" {
		log.Debug("no store context found")
	}

	history, err := o.memory.Recent(ctx, sessionID, o.historyLimit)
	if err != nil {
		return "", fmt.Errorf("%w: failed to load history: %w", ErrMemory, err)
	}

	reply, err := o.completer.Complete(ctx, o.BuildMessages(contextText, history))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletion, err)
	}

	if _, err := o.memory.Append(ctx, sessionID, models.RoleAssistant, reply); err != nil {
		return "", fmt.Errorf("%w: failed to store assistant turn: %w", ErrMemory, err)
	}
	log.Debug("turn handled", zap.Int("history", len(history)), zap.Int("context_len", len(contextText)))
	return reply, nil
}
