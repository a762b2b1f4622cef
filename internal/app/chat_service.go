package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docchat/internal/ai"
	"docchat/internal/model"
	"docchat/internal/pkg/sessiontoken"
	"docchat/internal/retrieval"
)

// historyWindow is how many messages are loaded from storage and cached per
// session; per-request limits trim within it.
const historyWindow = 200

const systemPrompt = "You are a careful assistant. Answer using ONLY the provided context blocks. " +
	"Each block is labeled [source (p.N)]. If the context does not contain the answer, say so plainly. " +
	"Cite the pages you used as (p.N)."

// ContextRetriever is the slice of the retrieval orchestrator the chat
// service needs: question in, grounded context and citations out.
type ContextRetriever interface {
	AnswerContext(ctx context.Context, sessionID, question string, topK int, lambda float64) (string, []retrieval.Citation, error)
}

// Generator produces answers from a prompt, whole or streamed.
type Generator interface {
	Complete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage) (string, error)
	StreamComplete(ctx context.Context, cfg ai.ChatConfig, messages []ai.ChatMessage, onChunk func(string) error) (string, error)
}

type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.ChatMessage) error
}

// SessionStore and MessageStore are the slices of the repository layer the
// chat service needs.
type SessionStore interface {
	Create(session *model.ChatSession) error
	GetByID(id string) (*model.ChatSession, error)
}

type MessageStore interface {
	ListBySessionID(sessionID string, limit int) ([]model.ChatMessage, error)
	ListRecentBySessionID(sessionID string, limit int) ([]model.ChatMessage, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.ChatMessage, bool, error)
	SetHistory(ctx context.Context, sessionID string, messages []model.ChatMessage) error
	DeleteHistory(ctx context.Context, sessionID string) error
	MarkDirty(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

type ChatService struct {
	sessionRepo  SessionStore
	messageRepo  MessageStore
	retriever    ContextRetriever
	llm          Generator
	publisher    AsyncMessagePublisher
	historyCache HistoryCache
	llmCfg       ai.ChatConfig
	maxRetries   int
	tokenSecret  string
	tokenTTL     time.Duration
	log          *zap.Logger
}

func NewChatService(
	sessionRepo SessionStore,
	messageRepo MessageStore,
	retriever ContextRetriever,
	llm Generator,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
	llmCfg ai.ChatConfig,
	maxRetries int,
	tokenSecret string,
	tokenTTL time.Duration,
	log *zap.Logger,
) *ChatService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatService{
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		retriever:    retriever,
		llm:          llm,
		publisher:    publisher,
		historyCache: historyCache,
		llmCfg:       llmCfg,
		maxRetries:   maxRetries,
		tokenSecret:  tokenSecret,
		tokenTTL:     tokenTTL,
		log:          log,
	}
}

type StartSessionResult struct {
	Session model.ChatSession `json:"session"`
	Token   string            `json:"token"`
}

// StartSession creates an anonymous session and returns the bearer token
// that scopes all subsequent uploads and questions to it.
func (s *ChatService) StartSession(title string) (*StartSessionResult, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Chat"
	}

	session := &model.ChatSession{
		ID:    uuid.NewString(),
		Title: title,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}

	token, err := sessiontoken.Sign(s.tokenSecret, session.ID, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &StartSessionResult{Session: *session, Token: token}, nil
}

type AskInput struct {
	SessionID string
	Question  string
	TopK      int
	// MMRLambda outside [0,1] means "use the configured default".
	MMRLambda float64
}

type AskResult struct {
	Answer    string               `json:"answer"`
	Citations []retrieval.Citation `json:"citations"`
}

// Ask retrieves grounded context for the question, calls the model with
// bounded retries and enqueues both turns for persistence.
func (s *ChatService) Ask(ctx context.Context, input AskInput) (*AskResult, error) {
	question, err := s.checkAskInput(input)
	if err != nil {
		return nil, err
	}

	contextText, citations, err := s.retriever.AnswerContext(ctx, input.SessionID, question, input.TopK, input.MMRLambda)
	if err != nil {
		return nil, err
	}
	history := s.recentHistory(input.SessionID)

	if err := s.recordUserMessage(ctx, input.SessionID, question); err != nil {
		return nil, err
	}

	answer, err := s.completeWithRetry(ctx, buildPromptMessages(history, contextText, question))
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = "The model returned an empty response."
	}

	if err := s.recordAssistantMessage(ctx, input.SessionID, answer, citations); err != nil {
		return nil, err
	}
	return &AskResult{Answer: answer, Citations: citations}, nil
}

// StreamAsk is Ask with token streaming: onCitations fires once before the
// first token, then onChunk for every delta. An error from either callback
// (a closed consumer included) aborts the stream; no retry is attempted
// because tokens may already have been delivered.
func (s *ChatService) StreamAsk(
	ctx context.Context,
	input AskInput,
	onCitations func([]retrieval.Citation) error,
	onChunk func(string) error,
) (string, error) {
	question, err := s.checkAskInput(input)
	if err != nil {
		return "", err
	}

	contextText, citations, err := s.retriever.AnswerContext(ctx, input.SessionID, question, input.TopK, input.MMRLambda)
	if err != nil {
		return "", err
	}
	if err := onCitations(citations); err != nil {
		return "", err
	}
	history := s.recentHistory(input.SessionID)

	if err := s.recordUserMessage(ctx, input.SessionID, question); err != nil {
		return "", err
	}

	full, err := s.llm.StreamComplete(ctx, s.llmCfg, buildPromptMessages(history, contextText, question), onChunk)
	if err != nil {
		return "", err
	}
	full = strings.TrimSpace(full)
	if full == "" {
		full = "The model returned an empty response."
	}

	if err := s.recordAssistantMessage(ctx, input.SessionID, full, citations); err != nil {
		return "", err
	}
	return full, nil
}

// GetHistory serves the session history from the Redis cache when it is
// clean, falling back to MySQL and re-populating the cache. The cache always
// holds the full window so differing per-request limits never see a
// previously truncated list.
func (s *ChatService) GetHistory(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	if sessionID == "" {
		return nil, ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionID(sessionID, historyWindow)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, sessionID, messages)
		}
	}
	return trimMessages(messages, limit), nil
}

func (s *ChatService) checkAskInput(input AskInput) (string, error) {
	if input.SessionID == "" {
		return "", ErrInvalidInput
	}
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return "", ErrMessageEmpty
	}

	session, err := s.sessionRepo.GetByID(input.SessionID)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", ErrSessionNotFound
	}
	return question, nil
}

func (s *ChatService) recordUserMessage(ctx context.Context, sessionID, content string) error {
	if s.publisher == nil {
		return ErrMessageEnqueue
	}
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, sessionID)
		_ = s.historyCache.DeleteHistory(ctx, sessionID)
	}
	msg := model.ChatMessage{
		SessionID: sessionID,
		Role:      "user",
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return ErrMessageEnqueue
	}
	return nil
}

func (s *ChatService) recordAssistantMessage(ctx context.Context, sessionID, content string, citations []retrieval.Citation) error {
	msg := model.ChatMessage{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   content,
		CreatedAt: time.Now(),
	}
	msg.SetCitations(citations)
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return ErrMessageEnqueue
	}
	return nil
}

// completeWithRetry calls the model with bounded exponential backoff:
// delays double per attempt and are capped, context cancellation stops the
// loop immediately.
func (s *ChatService) completeWithRetry(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	const (
		baseDelay = 500 * time.Millisecond
		maxDelay  = 4 * time.Second
	)

	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		answer, err := s.llm.Complete(ctx, s.llmCfg, messages)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}
		if attempt == s.maxRetries {
			break
		}
		s.log.Warn("llm completion failed, retrying",
			zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return "", lastErr
}

// recentHistory loads the last few persisted turns for prompt context. The
// history is best-effort: a read failure degrades to a single-turn prompt.
func (s *ChatService) recentHistory(sessionID string) []model.ChatMessage {
	if s.messageRepo == nil {
		return nil
	}
	history, err := s.messageRepo.ListRecentBySessionID(sessionID, 10)
	if err != nil {
		s.log.Warn("load history for prompt failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return history
}

func buildPromptMessages(history []model.ChatMessage, contextText, question string) []ai.ChatMessage {
	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: systemPrompt})
	for _, m := range history {
		messages = append(messages, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ai.ChatMessage{
		Role:    "user",
		Content: "Context:\n\n" + contextText + "\n\nQuestion: " + question,
	})
	return messages
}

func trimMessages(messages []model.ChatMessage, limit int) []model.ChatMessage {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
