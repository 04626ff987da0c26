package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vionhq/vion/internal/channel"
	"github.com/vionhq/vion/internal/channel/adapters/telegram"
	"github.com/vionhq/vion/internal/tenant"
)

// ChannelsHandler manages tenant channel connections. Connecting validates
// the credential against the platform before anything is stored.
type ChannelsHandler struct {
	registry      *channel.Registry
	tenants       *tenant.Store
	telegram      *telegram.Adapter
	publicBaseURL string
	logger        *slog.Logger
}

func NewChannelsHandler(log *slog.Logger, registry *channel.Registry, tenants *tenant.Store, tg *telegram.Adapter, publicBaseURL string) *ChannelsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChannelsHandler{
		registry:      registry,
		tenants:       tenants,
		telegram:      tg,
		publicBaseURL: publicBaseURL,
		logger:        log.With(slog.String("handler", "channels")),
	}
}

func (h *ChannelsHandler) Register(e *echo.Echo) {
	e.GET("/channels", h.List)
	e.POST("/channels/:channel/connect", h.Connect)
	e.POST("/channels/:channel/disconnect", h.Disconnect)
}

type connectRequest struct {
	TenantID          string `json:"tenant_id" validate:"required"`
	AuthSecret        string `json:"auth_secret" validate:"required"`
	SigningSecret     string `json:"signing_secret"`
	ExternalAccountID string `json:"external_account_id"`
}

type connectResponse struct {
	Channel           string    `json:"channel"`
	Connected         bool      `json:"connected"`
	ExternalAccountID string    `json:"external_account_id,omitempty"`
	DisplayName       string    `json:"display_name,omitempty"`
	ConnectedAt       time.Time `json:"connected_at"`
}

type disconnectRequest struct {
	TenantID string `json:"tenant_id" validate:"required"`
}

// List godoc
// @Summary List channel types
// @Description List the channel types this deployment supports.
// @Tags channels
// @Produce json
// @Success 200 {array} string
// @Router /channels [get]
func (h *ChannelsHandler) List(c echo.Context) error {
	types := h.registry.Types()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, t.String())
	}
	return c.JSON(http.StatusOK, names)
}

// Connect godoc
// @Summary Connect a channel
// @Description Validate a channel credential, store it, and for Telegram register the webhook callback.
// @Tags channels
// @Accept json
// @Produce json
// @Param channel path string true "Channel type"
// @Param request body connectRequest true "Credential"
// @Success 200 {object} connectResponse
// @Failure 400 {object} ErrorResponse
// @Router /channels/{channel}/connect [post]
func (h *ChannelsHandler) Connect(c echo.Context) error {
	ch := channel.Type(c.Param("channel"))
	adapter, err := h.registry.Get(ch)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	cred := channel.Credential{
		Connected:         true,
		AuthSecret:        req.AuthSecret,
		SigningSecret:     req.SigningSecret,
		ExternalAccountID: req.ExternalAccountID,
		ConnectedAt:       time.Now().UTC(),
	}
	identity, err := adapter.ValidateCredential(ctx, cred)
	if err != nil {
		h.logger.Warn("credential validation failed",
			slog.String("tenant_id", req.TenantID),
			slog.String("channel", ch.String()),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadRequest, "credential validation failed")
	}
	if cred.ExternalAccountID == "" {
		cred.ExternalAccountID = identity.ExternalAccountID
	}

	if err := h.tenants.SaveCredential(ctx, req.TenantID, ch, cred); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "save credential failed")
	}

	if ch == channel.TypeTelegram && h.telegram != nil && h.publicBaseURL != "" {
		callback := fmt.Sprintf("%s/channels/telegram/webhook/%s", h.publicBaseURL, req.TenantID)
		if err := h.telegram.RegisterWebhook(ctx, cred, callback); err != nil {
			h.logger.Error("register telegram webhook failed",
				slog.String("tenant_id", req.TenantID),
				slog.Any("error", err))
			return echo.NewHTTPError(http.StatusBadGateway, "webhook registration failed")
		}
	}

	return c.JSON(http.StatusOK, connectResponse{
		Channel:           ch.String(),
		Connected:         true,
		ExternalAccountID: cred.ExternalAccountID,
		DisplayName:       identity.DisplayName,
		ConnectedAt:       cred.ConnectedAt,
	})
}

// Disconnect godoc
// @Summary Disconnect a channel
// @Description Mark a tenant's channel as disconnected. Stored secrets are kept for reconnection.
// @Tags channels
// @Accept json
// @Produce json
// @Param channel path string true "Channel type"
// @Param request body disconnectRequest true "Tenant"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /channels/{channel}/disconnect [post]
func (h *ChannelsHandler) Disconnect(c echo.Context) error {
	ch := channel.Type(c.Param("channel"))
	if _, err := h.registry.Get(ch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var req disconnectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	err := h.tenants.Disconnect(c.Request().Context(), req.TenantID, ch)
	if errors.Is(err, tenant.ErrNoCredential) {
		return echo.NewHTTPError(http.StatusNotFound, "channel not connected")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "disconnect failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "disconnected"})
}
