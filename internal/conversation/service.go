// Package conversation orchestrates the message flow: inbound messages are
// stored, routed to an AI provider (unless an operator paused the session),
// and the reply is persisted and dispatched back to the channel.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vionhq/vion/internal/channel"
	"github.com/vionhq/vion/internal/chat"
	"github.com/vionhq/vion/internal/session"
	"github.com/vionhq/vion/internal/usage"
)

// SessionStore is the slice of the session store this service needs.
type SessionStore interface {
	Ensure(ctx context.Context, key session.Key) (session.Session, bool, error)
	Get(ctx context.Context, sessionID string) (session.Session, error)
	History(ctx context.Context, sessionID string, limit int) ([]session.Message, error)
	Append(ctx context.Context, msg session.Message) (session.Message, bool, error)
	SetSentiment(ctx context.Context, messageID, sentiment string) error
}

// CredentialSource loads a tenant's channel credential for dispatching.
type CredentialSource interface {
	Credential(ctx context.Context, tenantID string, ch channel.Type) (channel.Credential, error)
}

// Generator produces a complete reply in one call.
type Generator interface {
	Generate(ctx context.Context, req chat.Request) (chat.Result, []chat.Attempt, error)
}

// Streamer produces a reply incrementally through a sink.
type Streamer interface {
	Run(ctx context.Context, req chat.Request, sink chat.Sink) (chat.Result, error)
}

// Classifier labels message sentiment.
type Classifier interface {
	Classify(ctx context.Context, text string) string
}

// Tracker records AI spend.
type Tracker interface {
	Track(rec usage.Record)
}

// Alerter tells the operator about new sessions.
type Alerter interface {
	SessionStarted(ctx context.Context, sess session.Session, firstMessage string)
}

const backgroundTimeout = 30 * time.Second

// Reply is the outcome of handling one inbound message.
type Reply struct {
	Session   session.Session
	Text      string
	Paused    bool // operator paused the session; no reply was generated
	Duplicate bool // webhook retry of an already-processed message
	Result    chat.Result
}

// Service wires the conversation flow together.
type Service struct {
	sessions     SessionStore
	creds        CredentialSource
	registry     *channel.Registry
	router       Generator
	relay        Streamer
	sentiment    Classifier
	meter        Tracker
	alerter      Alerter
	contextDepth int
	systemPrompt string
	logger       *slog.Logger
}

// Options carries the optional collaborators.
type Options struct {
	Sentiment    Classifier
	Meter        Tracker
	Alerter      Alerter
	ContextDepth int
	SystemPrompt string
}

func NewService(log *slog.Logger, sessions SessionStore, creds CredentialSource, registry *channel.Registry, router Generator, relay Streamer, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	depth := opts.ContextDepth
	if depth <= 0 {
		depth = chat.DefaultContextDepth
	}
	return &Service{
		sessions:     sessions,
		creds:        creds,
		registry:     registry,
		router:       router,
		relay:        relay,
		sentiment:    opts.Sentiment,
		meter:        opts.Meter,
		alerter:      opts.Alerter,
		contextDepth: depth,
		systemPrompt: opts.SystemPrompt,
		logger:       log.With(slog.String("service", "conversation")),
	}
}

// HandleInbound processes one normalized inbound message. When sink is
// non-nil the reply streams through it as it is generated; otherwise the
// reply is generated in one shot. In both modes the assistant reply is
// persisted exactly once, and on a mid-stream failure whatever content
// was produced is persisted before the error is returned.
func (s *Service) HandleInbound(ctx context.Context, tenantID string, inbound channel.Inbound, sink chat.Sink) (Reply, error) {
	key := session.Key{Channel: inbound.Channel, TenantID: tenantID, ParticipantID: inbound.ParticipantID}
	sess, created, err := s.sessions.Ensure(ctx, key)
	if err != nil {
		return Reply{}, fmt.Errorf("ensure session: %w", err)
	}

	userMsg, inserted, err := s.sessions.Append(ctx, session.Message{
		SessionID:  sess.ID,
		Role:       session.RoleUser,
		Content:    inbound.Text,
		ExternalID: inbound.ExternalID,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("store user message: %w", err)
	}
	if !inserted {
		s.logger.Info("duplicate delivery ignored",
			slog.String("session_id", sess.ID),
			slog.String("external_id", inbound.ExternalID))
		return Reply{Session: sess, Duplicate: true}, nil
	}

	if created && s.alerter != nil {
		go s.background(func(bg context.Context) {
			s.alerter.SessionStarted(bg, sess, inbound.Text)
		})
	}
	if s.sentiment != nil {
		go s.background(func(bg context.Context) {
			label := s.sentiment.Classify(bg, inbound.Text)
			if err := s.sessions.SetSentiment(bg, userMsg.ID, label); err != nil {
				s.logger.Warn("store sentiment failed", slog.Any("error", err))
			}
		})
	}

	// An operator owns a paused conversation: the message is stored above
	// and acknowledged, but no reply is generated or sent.
	if sess.Paused {
		s.logger.Info("session paused, skipping generation", slog.String("session_id", sess.ID))
		return Reply{Session: sess, Paused: true}, nil
	}

	req, err := s.buildRequest(ctx, sess.ID)
	if err != nil {
		return Reply{}, err
	}

	var result chat.Result
	var genErr error
	if sink != nil && s.relay != nil {
		result, genErr = s.relay.Run(ctx, req, sink)
	} else {
		result, _, genErr = s.router.Generate(ctx, req)
	}
	if genErr != nil && result.Content == "" {
		return Reply{Session: sess}, genErr
	}

	// Persist even when the request context is gone: a generated reply the
	// user saw part of must survive in history.
	persistCtx := context.WithoutCancel(ctx)
	if _, _, err := s.sessions.Append(persistCtx, session.Message{
		SessionID: sess.ID,
		Role:      session.RoleAssistant,
		Content:   result.Content,
	}); err != nil {
		s.logger.Error("store assistant message failed",
			slog.String("session_id", sess.ID),
			slog.Any("error", err))
		if genErr == nil {
			genErr = fmt.Errorf("store assistant message: %w", err)
		}
	}
	if s.meter != nil {
		s.meter.Track(usage.Record{
			TenantID:     tenantID,
			Model:        result.Model,
			InputTokens:  result.Usage.PromptTokens,
			OutputTokens: result.Usage.CompletionTokens,
		})
	}
	if genErr != nil {
		return Reply{Session: sess, Text: result.Content, Result: result}, genErr
	}

	s.dispatch(persistCtx, sess, channel.Outbound{
		Target:   inbound.ReplyTarget,
		Text:     result.Content,
		ThreadID: inbound.ThreadID,
	})
	return Reply{Session: sess, Text: result.Content, Result: result}, nil
}

// OperatorReply appends an operator-authored reply and dispatches it on the
// session's channel, bypassing generation entirely.
func (s *Service) OperatorReply(ctx context.Context, sessionID, text string) (session.Message, error) {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Message{}, err
	}
	msg, _, err := s.sessions.Append(ctx, session.Message{
		SessionID: sess.ID,
		Role:      session.RoleAssistant,
		Content:   text,
		IsHuman:   true,
	})
	if err != nil {
		return session.Message{}, fmt.Errorf("store operator message: %w", err)
	}
	s.dispatch(ctx, sess, channel.Outbound{
		Target: sess.ParticipantID,
		Text:   text,
	})
	return msg, nil
}

// buildRequest assembles the provider request from stored history. The
// router trims depth again, so loading a little extra here is harmless.
func (s *Service) buildRequest(ctx context.Context, sessionID string) (chat.Request, error) {
	history, err := s.sessions.History(ctx, sessionID, s.contextDepth)
	if err != nil {
		return chat.Request{}, fmt.Errorf("load history: %w", err)
	}
	messages := make([]chat.Message, 0, len(history)+1)
	if s.systemPrompt != "" {
		messages = append(messages, chat.Message{Role: "system", Content: s.systemPrompt})
	}
	for _, msg := range history {
		messages = append(messages, chat.Message{Role: string(msg.Role), Content: msg.Content})
	}
	return chat.Request{Messages: messages}, nil
}

// dispatch is best-effort: a channel delivery failure is logged, never
// surfaced, and never retried.
func (s *Service) dispatch(ctx context.Context, sess session.Session, out channel.Outbound) {
	adapter, err := s.registry.Get(sess.Channel)
	if err != nil {
		s.logger.Error("no adapter for channel", slog.String("channel", sess.Channel.String()))
		return
	}
	cred, err := s.creds.Credential(ctx, sess.TenantID, sess.Channel)
	if err != nil {
		if sess.Channel != channel.TypeWeb {
			s.logger.Warn("no credential for dispatch",
				slog.String("tenant_id", sess.TenantID),
				slog.String("channel", sess.Channel.String()),
				slog.Any("error", err))
			return
		}
		cred = channel.Credential{}
	}
	if err := adapter.Dispatch(ctx, cred, out); err != nil {
		s.logger.Error("dispatch failed",
			slog.String("session_id", sess.ID),
			slog.String("channel", sess.Channel.String()),
			slog.Any("error", err))
	}
}

func (s *Service) background(fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
	defer cancel()
	fn(ctx)
}
