package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/model"
	"docchat/internal/retrieval"
	"docchat/internal/transport/http/middleware"
	"docchat/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type StartSessionRequest struct {
	Title string `json:"title" binding:"max=128"`
}

type AskRequest struct {
	Question  string   `json:"question" binding:"required"`
	TopK      int      `json:"top_k"`
	MMRLambda *float64 `json:"mmr_lambda"`
}

type HistoryMessage struct {
	Role      string               `json:"role"`
	Content   string               `json:"content"`
	Citations []retrieval.Citation `json:"citations,omitempty"`
	CreatedAt string               `json:"created_at"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) StartSession(c *gin.Context) {
	var req StartSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.StartSession(req.Title)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "start session failed")
		return
	}
	response.OK(c, result)
}

func (h *ChatHandler) Ask(c *gin.Context) {
	sessionID, ok := getSessionIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.chatService.Ask(c.Request.Context(), app.AskInput{
		SessionID: sessionID,
		Question:  req.Question,
		TopK:      req.TopK,
		MMRLambda: lambdaOrDefault(req.MMRLambda),
	})
	if err != nil {
		writeAskError(c, err)
		return
	}
	response.OK(c, result)
}

func (h *ChatHandler) StreamAsk(c *gin.Context) {
	sessionID, ok := getSessionIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	writeEvent := func(event, data string) error {
		if event != "" {
			if _, err := c.Writer.Write([]byte("event: " + event + "\n")); err != nil {
				return err
			}
		}
		if _, err := c.Writer.Write([]byte("data: " + data + "\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	full, err := h.chatService.StreamAsk(c.Request.Context(), app.AskInput{
		SessionID: sessionID,
		Question:  req.Question,
		TopK:      req.TopK,
		MMRLambda: lambdaOrDefault(req.MMRLambda),
	}, func(citations []retrieval.Citation) error {
		payload, marshalErr := json.Marshal(citations)
		if marshalErr != nil {
			return marshalErr
		}
		return writeEvent("citations", string(payload))
	}, func(chunk string) error {
		return writeEvent("", sanitizeSSE(chunk))
	})
	if err != nil {
		_ = writeEvent("error", sanitizeSSE(err.Error()))
		return
	}

	_ = writeEvent("done", sanitizeSSE(full))
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	sessionID, ok := getSessionIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil {
			limit = parsed
		}
	}

	messages, err := h.chatService.GetHistory(c.Request.Context(), sessionID, limit)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrSessionNotFound):
			response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get history failed")
		}
		return
	}

	history := make([]HistoryMessage, len(messages))
	for i := range messages {
		history[i] = toHistoryMessage(messages[i])
	}
	response.OK(c, history)
}

func writeAskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrMessageEmpty):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, app.ErrMessageEnqueue):
		response.Error(c, http.StatusServiceUnavailable, response.CodeInternalServer, err.Error())
	case errors.Is(err, retrieval.ErrIndexUnavailable), errors.Is(err, retrieval.ErrEmbeddingFailed):
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamFailure, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fmt.Sprintf("ask failed: %s", err.Error()))
	}
}

func toHistoryMessage(m model.ChatMessage) HistoryMessage {
	return HistoryMessage{
		Role:      m.Role,
		Content:   m.Content,
		Citations: m.CitationList(),
		CreatedAt: m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// lambdaOrDefault maps an absent request value to the out-of-range sentinel
// the service treats as "use the configured default". A literal 0 stays 0:
// pure-diversity ranking is a valid request.
func lambdaOrDefault(v *float64) float64 {
	if v == nil {
		return -1
	}
	return *v
}

func getSessionIDFromContext(c *gin.Context) (string, bool) {
	sessionIDAny, exists := c.Get(middleware.ContextSessionIDKey)
	if !exists {
		return "", false
	}
	sessionID, ok := sessionIDAny.(string)
	return sessionID, ok && sessionID != ""
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
