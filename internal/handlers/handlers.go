// Package handlers wires the HTTP surface: the widget chat endpoint, the
// per-channel webhook callbacks, and the operator API.
package handlers

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/vionhq/vion/internal/channel"
	"github.com/vionhq/vion/internal/chat"
	"github.com/vionhq/vion/internal/conversation"
	"github.com/vionhq/vion/internal/session"
)

// ConversationService is the slice of the conversation service the HTTP
// layer needs.
type ConversationService interface {
	HandleInbound(ctx context.Context, tenantID string, inbound channel.Inbound, sink chat.Sink) (conversation.Reply, error)
	OperatorReply(ctx context.Context, sessionID, text string) (session.Message, error)
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Validator adapts go-playground/validator to echo's binding pipeline.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

func (v *Validator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

var _ echo.Validator = (*Validator)(nil)
