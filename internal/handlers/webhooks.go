package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vionhq/vion/internal/channel"
	"github.com/vionhq/vion/internal/channel/adapters/slack"
	"github.com/vionhq/vion/internal/conversation"
	"github.com/vionhq/vion/internal/webhook"
)

// Platforms retry undelivered webhooks aggressively, so handlers acknowledge
// with 200 as soon as the event is accepted and process it in the background.
// Message de-duplication makes the retries harmless.
const webhookProcessTimeout = 2 * time.Minute

const (
	slackSignatureHeader = "X-Slack-Signature"
	slackTimestampHeader = "X-Slack-Request-Timestamp"
)

// WebhookHandler receives channel platform callbacks.
type WebhookHandler struct {
	registry *channel.Registry
	service  ConversationService
	creds    conversation.CredentialSource
	logger   *slog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

func NewWebhookHandler(log *slog.Logger, registry *channel.Registry, service ConversationService, creds conversation.CredentialSource) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		registry: registry,
		service:  service,
		creds:    creds,
		logger:   log.With(slog.String("handler", "webhooks")),
		now:      time.Now,
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/channels/telegram/webhook/:tenant", h.Telegram)
	e.POST("/channels/slack/webhook/:tenant", h.Slack)
	e.GET("/channels/whatsapp/webhook/:tenant", h.WhatsAppVerify)
	e.POST("/channels/whatsapp/webhook/:tenant", h.WhatsApp)
}

// Telegram receives bot webhook updates.
func (h *WebhookHandler) Telegram(c echo.Context) error {
	return h.receive(c, channel.TypeTelegram)
}

// Slack receives Events API callbacks. Deliveries are authenticated with the
// tenant's signing secret before the payload is even parsed, and the
// url_verification handshake is answered by echoing the challenge.
func (h *WebhookHandler) Slack(c echo.Context) error {
	tenantID := c.Param("tenant")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body failed")
	}

	cred, err := h.creds.Credential(c.Request().Context(), tenantID, channel.TypeSlack)
	if err != nil {
		h.logger.Warn("slack webhook for unconnected tenant", slog.String("tenant_id", tenantID))
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown tenant channel")
	}
	if err := webhook.Verify(body,
		c.Request().Header.Get(slackSignatureHeader),
		c.Request().Header.Get(slackTimestampHeader),
		cred.SigningSecret, h.now(),
	); err != nil {
		h.logger.Warn("slack signature rejected",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}

	env, err := slack.ParseEnvelope(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
	}
	if env.Type == "url_verification" {
		return c.JSON(http.StatusOK, map[string]string{"challenge": env.Challenge})
	}

	return h.accept(c, channel.TypeSlack, tenantID, body)
}

// WhatsAppVerify answers the Cloud API subscription handshake. The platform
// sends the tenant's verify token and expects the challenge echoed as plain
// text.
func (h *WebhookHandler) WhatsAppVerify(c echo.Context) error {
	tenantID := c.Param("tenant")
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	cred, err := h.creds.Credential(c.Request().Context(), tenantID, channel.TypeWhatsApp)
	if err != nil || mode != "subscribe" || token == "" || token != cred.SigningSecret {
		h.logger.Warn("whatsapp verification rejected", slog.String("tenant_id", tenantID))
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	return c.String(http.StatusOK, challenge)
}

// WhatsApp receives Cloud API message notifications.
func (h *WebhookHandler) WhatsApp(c echo.Context) error {
	return h.receive(c, channel.TypeWhatsApp)
}

func (h *WebhookHandler) receive(c echo.Context, ch channel.Type) error {
	tenantID := c.Param("tenant")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body failed")
	}
	return h.accept(c, ch, tenantID, body)
}

// accept normalizes the payload and hands it to the conversation service in
// the background. Payloads the adapter does not recognize still get a 200 so
// the platform stops retrying them.
func (h *WebhookHandler) accept(c echo.Context, ch channel.Type, tenantID string, body []byte) error {
	adapter, err := h.registry.Get(ch)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	inbound, ok, err := adapter.Normalize(body)
	if err != nil {
		h.logger.Warn("webhook payload rejected",
			slog.String("channel", ch.String()),
			slog.String("tenant_id", tenantID),
			slog.Any("error", err))
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
	if !ok {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), webhookProcessTimeout)
		defer cancel()
		if _, err := h.service.HandleInbound(ctx, tenantID, inbound, nil); err != nil {
			h.logger.Error("webhook processing failed",
				slog.String("channel", ch.String()),
				slog.String("tenant_id", tenantID),
				slog.Any("error", err))
		}
	}()
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Wait blocks until in-flight webhook processing finishes. Shutdown uses it
// so accepted events are not lost.
func (h *WebhookHandler) Wait() {
	h.wg.Wait()
}
