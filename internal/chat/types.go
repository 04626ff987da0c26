// Package chat talks to AI providers. A Router walks a configured provider
// chain until one answers; a rule-based fallback sits at the end so the
// chain as a whole never fails.
package chat

import (
	"context"
	"errors"
)

// Message represents a chat message
type Message struct {
	Role    string `json:"role"` // user, assistant, system
	Content string `json:"content"`
}

// Request is the internal request structure
type Request struct {
	Messages    []Message
	Model       string // optional: override the provider's configured model
	Temperature *float32
	MaxTokens   *int
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is a completed generation.
type Result struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage,omitempty"`
}

// StreamChunk is one increment of a streamed generation. Usage rides on the
// final chunk when the provider reports it. The router stamps Provider and
// Model once it commits to a backend.
type StreamChunk struct {
	Content      string `json:"content,omitempty"`
	Model        string `json:"model,omitempty"`
	Provider     string `json:"provider,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// ErrMalformedResponse marks provider replies that arrived but could not be
// interpreted. The router distinguishes these from transport failures when
// logging failover attempts.
var ErrMalformedResponse = errors.New("malformed provider response")

// Provider is one AI backend. Stream returns a chunk channel and an error
// channel; both are closed when the stream ends. An error sent before any
// chunk means the provider never started answering.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (Result, error)
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error)
}
