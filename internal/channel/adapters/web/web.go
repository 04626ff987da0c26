// Package web is the embedded chat widget channel. Replies travel back on
// the same HTTP exchange that delivered the user message, so dispatch has
// nothing to deliver.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vionhq/vion/internal/channel"
)

// Adapter implements channel.Adapter for the web widget.
type Adapter struct {
	logger *slog.Logger
}

func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{logger: log.With(slog.String("adapter", "web"))}
}

// Type returns the web channel type.
func (a *Adapter) Type() channel.Type {
	return channel.TypeWeb
}

// Normalize parses a widget message. The widget sends its own visitor id so
// a returning visitor lands in the same session.
func (a *Adapter) Normalize(raw []byte) (channel.Inbound, bool, error) {
	var payload struct {
		VisitorID string `json:"visitor_id"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return channel.Inbound{}, false, fmt.Errorf("decode widget message: %w", err)
	}
	text := strings.TrimSpace(payload.Message)
	if text == "" || strings.TrimSpace(payload.VisitorID) == "" {
		return channel.Inbound{}, false, nil
	}
	return channel.Inbound{
		Channel:       channel.TypeWeb,
		ParticipantID: payload.VisitorID,
		ReplyTarget:   payload.VisitorID,
		Text:          text,
		ReceivedAt:    time.Now().UTC(),
	}, true, nil
}

// Dispatch is a no-op: the reply is returned synchronously by the chat
// endpoint and there is no push path to the widget.
func (a *Adapter) Dispatch(ctx context.Context, cred channel.Credential, msg channel.Outbound) error {
	return nil
}

// ValidateCredential always succeeds; the widget needs no platform secret.
func (a *Adapter) ValidateCredential(ctx context.Context, cred channel.Credential) (channel.Identity, error) {
	return channel.Identity{DisplayName: "Web widget"}, nil
}
