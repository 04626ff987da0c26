package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vionhq/vion/internal/channel"
	"github.com/vionhq/vion/internal/chat"
)

// ChatHandler serves the web widget. It is the one channel where the reply
// travels back on the same HTTP exchange.
type ChatHandler struct {
	service ConversationService
	logger  *slog.Logger
}

func NewChatHandler(log *slog.Logger, service ConversationService) *ChatHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChatHandler{
		service: service,
		logger:  log.With(slog.String("handler", "chat")),
	}
}

func (h *ChatHandler) Register(e *echo.Echo) {
	e.POST("/api/chat", h.Chat)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	TenantID  string        `json:"tenant_id" validate:"required"`
	VisitorID string        `json:"visitor_id" validate:"required"`
	Message   string        `json:"message"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
}

// text returns the inbound user text: the message field when set, otherwise
// the latest user entry of the messages list. Widgets that keep a local
// transcript send the whole list; the server persists history either way.
func (r chatRequest) text() string {
	if r.Message != "" {
		return r.Message
	}
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" && r.Messages[i].Content != "" {
			return r.Messages[i].Content
		}
	}
	return ""
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Paused    bool   `json:"paused,omitempty"`
}

// Chat godoc
// @Summary Widget chat
// @Description Send a widget message and receive the assistant reply, either as JSON or as an SSE stream.
// @Tags chat
// @Accept json
// @Produce json
// @Param request body chatRequest true "Chat request"
// @Success 200 {object} chatResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/chat [post]
func (h *ChatHandler) Chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	text := req.text()
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	inbound := channel.Inbound{
		Channel:       channel.TypeWeb,
		ParticipantID: req.VisitorID,
		ReplyTarget:   req.VisitorID,
		Text:          text,
	}
	if req.Stream {
		return h.stream(c, req.TenantID, inbound)
	}

	reply, err := h.service.HandleInbound(c.Request().Context(), req.TenantID, inbound, nil)
	if err != nil {
		h.logger.Error("chat failed", slog.String("tenant_id", req.TenantID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "chat failed")
	}
	return c.JSON(http.StatusOK, chatResponse{
		SessionID: reply.Session.ID,
		Content:   reply.Text,
		Provider:  reply.Result.Provider,
		Model:     reply.Result.Model,
		Paused:    reply.Paused,
	})
}

func (h *ChatHandler) stream(c echo.Context, tenantID string, inbound channel.Inbound) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	writer := bufio.NewWriter(c.Response().Writer)

	sink := func(chunk chat.StreamChunk) error {
		data, err := json.Marshal(chunk)
		if err != nil {
			return nil
		}
		if _, err := writer.WriteString(fmt.Sprintf("data: %s\n\n", data)); err != nil {
			return err
		}
		if err := writer.Flush(); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	reply, err := h.service.HandleInbound(c.Request().Context(), tenantID, inbound, sink)
	if err != nil {
		h.logger.Error("stream chat failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		errData, _ := json.Marshal(map[string]string{"error": "generation failed"})
		_, _ = writer.WriteString(fmt.Sprintf("event: error\ndata: %s\n\n", errData))
		_ = writer.Flush()
		flusher.Flush()
		return nil
	}
	if reply.Paused {
		data, _ := json.Marshal(map[string]bool{"paused": true})
		_, _ = writer.WriteString(fmt.Sprintf("event: paused\ndata: %s\n\n", data))
		_ = writer.Flush()
		flusher.Flush()
	}
	_, _ = writer.WriteString("data: [DONE]\n\n")
	_ = writer.Flush()
	flusher.Flush()
	return nil
}
