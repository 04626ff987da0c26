package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Attempt outcomes. A parse error means the provider answered but the reply
// was unusable; a transport error means the call itself failed.
const (
	OutcomeSuccess        = "success"
	OutcomeParseError     = "parse_error"
	OutcomeTransportError = "transport_error"
)

// Attempt records one provider try during failover.
type Attempt struct {
	Provider string        `json:"provider"`
	Outcome  string        `json:"outcome"`
	Latency  time.Duration `json:"latency"`
	Err      string        `json:"error,omitempty"`
}

// DefaultContextDepth is how many trailing history messages accompany a
// generation request.
const DefaultContextDepth = 6

// Router walks an ordered provider chain until one produces a usable reply.
// Constructed with a heuristic provider last, it never fails outright.
type Router struct {
	providers    []Provider
	contextDepth int
	logger       *slog.Logger
}

func NewRouter(log *slog.Logger, providers []Provider, contextDepth int) *Router {
	if log == nil {
		log = slog.Default()
	}
	if contextDepth <= 0 {
		contextDepth = DefaultContextDepth
	}
	return &Router{
		providers:    providers,
		contextDepth: contextDepth,
		logger:       log.With(slog.String("service", "chat_router")),
	}
}

// Providers lists the chain's provider names in priority order.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

// trimHistory keeps system messages plus the trailing contextDepth
// conversation messages.
func (r *Router) trimHistory(messages []Message) []Message {
	var system, rest []Message
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg)
			continue
		}
		rest = append(rest, msg)
	}
	if len(rest) > r.contextDepth {
		rest = rest[len(rest)-r.contextDepth:]
	}
	return append(system, rest...)
}

// Generate runs the chain synchronously. The returned attempts cover every
// provider tried, the successful one included.
func (r *Router) Generate(ctx context.Context, req Request) (Result, []Attempt, error) {
	req.Messages = r.trimHistory(req.Messages)

	var attempts []Attempt
	for _, provider := range r.providers {
		start := time.Now()
		result, err := provider.Complete(ctx, req)
		latency := time.Since(start)
		if err == nil && strings.TrimSpace(result.Content) == "" {
			err = fmt.Errorf("%w: empty content", ErrMalformedResponse)
		}
		if err != nil {
			attempt := Attempt{
				Provider: provider.Name(),
				Outcome:  classifyOutcome(err),
				Latency:  latency,
				Err:      err.Error(),
			}
			attempts = append(attempts, attempt)
			r.logger.Warn("provider attempt failed",
				slog.String("provider", attempt.Provider),
				slog.String("outcome", attempt.Outcome),
				slog.Duration("latency", latency),
				slog.Any("error", err))
			if ctx.Err() != nil {
				return Result{}, attempts, ctx.Err()
			}
			continue
		}

		attempts = append(attempts, Attempt{
			Provider: provider.Name(),
			Outcome:  OutcomeSuccess,
			Latency:  latency,
		})
		r.logger.Info("generation complete",
			slog.String("provider", provider.Name()),
			slog.String("model", result.Model),
			slog.Duration("latency", latency),
			slog.Int("total_tokens", result.Usage.TotalTokens))
		result.Provider = provider.Name()
		return result, attempts, nil
	}
	return Result{}, attempts, fmt.Errorf("all providers failed")
}

// Stream runs the chain in streaming mode. Failover happens only before the
// first chunk: once a provider starts answering, the router commits to it
// and later errors surface to the caller.
func (r *Router) Stream(ctx context.Context, req Request) (<-chan StreamChunk, <-chan error) {
	outCh := make(chan StreamChunk)
	outErr := make(chan error, 1)
	req.Messages = r.trimHistory(req.Messages)

	go func() {
		defer close(outCh)
		defer close(outErr)

		for _, provider := range r.providers {
			start := time.Now()
			chunks, errs := provider.Stream(ctx, req)

			committed, err := r.forwardStream(ctx, provider.Name(), chunks, errs, outCh)
			latency := time.Since(start)
			if committed {
				if err != nil {
					outErr <- err
				}
				return
			}
			if err == nil {
				err = fmt.Errorf("%w: stream ended without content", ErrMalformedResponse)
			}
			r.logger.Warn("provider attempt failed",
				slog.String("provider", provider.Name()),
				slog.String("outcome", classifyOutcome(err)),
				slog.Duration("latency", latency),
				slog.Any("error", err))
			if ctx.Err() != nil {
				outErr <- ctx.Err()
				return
			}
		}
		outErr <- fmt.Errorf("all providers failed")
	}()

	return outCh, outErr
}

// forwardStream relays a provider's stream to out. committed reports whether
// at least one chunk was forwarded; before that point a failure is treated
// as a failed attempt rather than a stream error.
func (r *Router) forwardStream(ctx context.Context, name string, chunks <-chan StreamChunk, errs <-chan error, out chan<- StreamChunk) (bool, error) {
	committed := false
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				if errs == nil {
					return committed, nil
				}
				// Drain the error channel for a late failure.
				if err, pending := <-errs; pending {
					return committed, err
				}
				return committed, nil
			}
			chunk.Provider = name
			select {
			case out <- chunk:
				committed = true
			case <-ctx.Done():
				return committed, ctx.Err()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return committed, err
		case <-ctx.Done():
			return committed, ctx.Err()
		}
	}
}

func classifyOutcome(err error) string {
	if errors.Is(err, ErrMalformedResponse) {
		return OutcomeParseError
	}
	return OutcomeTransportError
}
