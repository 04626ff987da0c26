package chat

import (
	"context"
	"log/slog"
	"strings"
)

// Sink receives forwarded stream chunks, typically writing them to an HTTP
// response.
type Sink func(StreamChunk) error

// Relay drives a streamed generation: every chunk is forwarded to the sink
// as it arrives and accumulated into a single Result for persistence. The
// caller gets exactly one Result per run; when the stream dies mid-way the
// partial content accumulated so far is returned alongside the error.
type Relay struct {
	router *Router
	logger *slog.Logger
}

func NewRelay(log *slog.Logger, router *Router) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		router: router,
		logger: log.With(slog.String("service", "chat_relay")),
	}
}

// Run executes one streamed generation. Sink errors abort forwarding but the
// accumulated content is still returned so it can be persisted.
func (r *Relay) Run(ctx context.Context, req Request, sink Sink) (Result, error) {
	chunks, errs := r.router.Stream(ctx, req)

	var (
		content strings.Builder
		result  Result
	)
	forward := sink != nil
	for chunk := range chunks {
		content.WriteString(chunk.Content)
		if chunk.Provider != "" {
			result.Provider = chunk.Provider
		}
		if chunk.Model != "" {
			result.Model = chunk.Model
		}
		if chunk.FinishReason != "" {
			result.FinishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			result.Usage = *chunk.Usage
		}
		if forward {
			if err := sink(chunk); err != nil {
				// Keep draining so the result is complete even when the
				// client went away.
				forward = false
				r.logger.Warn("sink write failed, draining stream", slog.Any("error", err))
			}
		}
	}
	result.Content = content.String()

	if err, ok := <-errs; ok && err != nil {
		r.logger.Error("stream failed",
			slog.String("provider", result.Provider),
			slog.Int("partial_bytes", len(result.Content)),
			slog.Any("error", err))
		return result, err
	}
	return result, nil
}
