package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/vionhq/vion/internal/session"
	"github.com/vionhq/vion/internal/usage"
)

const defaultHistoryLimit = 50

// SessionSource is the slice of the session store the operator API needs.
type SessionSource interface {
	Get(ctx context.Context, sessionID string) (session.Session, error)
	History(ctx context.Context, sessionID string, limit int) ([]session.Message, error)
	TogglePause(ctx context.Context, sessionID string) (bool, error)
	SetPaused(ctx context.Context, sessionID string, paused bool) (bool, error)
}

// UsageSource reads tenant usage counters.
type UsageSource interface {
	Snapshot(ctx context.Context, tenantID string) (usage.Totals, error)
}

// OperatorHandler serves the human operator console: session inspection,
// pause control, and manual replies.
type OperatorHandler struct {
	sessions SessionSource
	service  ConversationService
	usage    UsageSource
	logger   *slog.Logger
}

func NewOperatorHandler(log *slog.Logger, sessions SessionSource, service ConversationService, usageSource UsageSource) *OperatorHandler {
	if log == nil {
		log = slog.Default()
	}
	return &OperatorHandler{
		sessions: sessions,
		service:  service,
		usage:    usageSource,
		logger:   log.With(slog.String("handler", "operator")),
	}
}

func (h *OperatorHandler) Register(e *echo.Echo) {
	e.GET("/operator/sessions/:id", h.GetSession)
	e.POST("/operator/sessions/:id/pause", h.TogglePause)
	e.POST("/operator/messages", h.SendMessage)
	e.GET("/operator/usage/:tenant", h.Usage)
}

type sessionResponse struct {
	Session  session.Session   `json:"session"`
	Messages []session.Message `json:"messages"`
}

type pauseRequest struct {
	Paused *bool `json:"paused"`
}

type pauseResponse struct {
	SessionID string `json:"session_id"`
	Paused    bool   `json:"paused"`
}

type operatorMessageRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Text      string `json:"text" validate:"required"`
}

// GetSession godoc
// @Summary Inspect a session
// @Description Load a session and its recent message history. The limit query parameter caps the returned messages.
// @Tags operator
// @Produce json
// @Param id path string true "Session id"
// @Param limit query int false "History limit"
// @Success 200 {object} sessionResponse
// @Failure 404 {object} ErrorResponse
// @Router /operator/sessions/{id} [get]
func (h *OperatorHandler) GetSession(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := h.sessions.Get(ctx, c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "load session failed")
	}

	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	messages, err := h.sessions.History(ctx, sess.ID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "load history failed")
	}
	return c.JSON(http.StatusOK, sessionResponse{Session: sess, Messages: messages})
}

// TogglePause godoc
// @Summary Pause or resume a session
// @Description Set the pause flag when the body carries an explicit paused value, otherwise flip it. Inbound messages on a paused session are stored but never answered automatically.
// @Tags operator
// @Accept json
// @Produce json
// @Param id path string true "Session id"
// @Param request body pauseRequest false "Desired state"
// @Success 200 {object} pauseResponse
// @Failure 404 {object} ErrorResponse
// @Router /operator/sessions/{id}/pause [post]
func (h *OperatorHandler) TogglePause(c echo.Context) error {
	sessionID := c.Param("id")

	var req pauseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var paused bool
	var err error
	if req.Paused != nil {
		// Explicit state is idempotent: setting the same value twice is a no-op.
		paused = *req.Paused
		_, err = h.sessions.SetPaused(c.Request().Context(), sessionID, paused)
	} else {
		paused, err = h.sessions.TogglePause(c.Request().Context(), sessionID)
	}
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "toggle pause failed")
	}
	h.logger.Info("session pause toggled",
		slog.String("session_id", sessionID),
		slog.Bool("paused", paused))
	return c.JSON(http.StatusOK, pauseResponse{SessionID: sessionID, Paused: paused})
}

// SendMessage godoc
// @Summary Send an operator reply
// @Description Append a human-authored reply to a session and deliver it on the session's channel.
// @Tags operator
// @Accept json
// @Produce json
// @Param request body operatorMessageRequest true "Reply"
// @Success 200 {object} session.Message
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /operator/messages [post]
func (h *OperatorHandler) SendMessage(c echo.Context) error {
	var req operatorMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	msg, err := h.service.OperatorReply(c.Request().Context(), req.SessionID, req.Text)
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		h.logger.Error("operator reply failed",
			slog.String("session_id", req.SessionID),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "operator reply failed")
	}
	return c.JSON(http.StatusOK, msg)
}

// Usage godoc
// @Summary Tenant usage totals
// @Description Read a tenant's accumulated token counts, cost, and call count.
// @Tags operator
// @Produce json
// @Param tenant path string true "Tenant id"
// @Success 200 {object} usage.Totals
// @Router /operator/usage/{tenant} [get]
func (h *OperatorHandler) Usage(c echo.Context) error {
	totals, err := h.usage.Snapshot(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "load usage failed")
	}
	return c.JSON(http.StatusOK, totals)
}
