// Package slack adapts the Slack Events API to the channel contract.
// Webhook signature verification happens at the HTTP layer before events
// reach Normalize; this package only understands event payloads and the
// Slack Web API.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/vionhq/vion/internal/channel"
)

const defaultAPIBaseURL = "https://slack.com/api"

// mentionPattern matches <@U123ABC> style user mentions.
var mentionPattern = regexp.MustCompile(`<@[^>]+>`)

// Envelope is the outer Events API payload. Type "url_verification" carries
// a challenge the webhook must echo back; "event_callback" wraps an event.
type Envelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	Event     Event  `json:"event,omitempty"`
}

// Event is the inner Slack event.
type Event struct {
	Type        string `json:"type"`
	ChannelType string `json:"channel_type,omitempty"`
	User        string `json:"user,omitempty"`
	Text        string `json:"text,omitempty"`
	TS          string `json:"ts,omitempty"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	Channel     string `json:"channel,omitempty"`
	BotID       string `json:"bot_id,omitempty"`
	Subtype     string `json:"subtype,omitempty"`
}

// Adapter implements channel.Adapter for Slack.
type Adapter struct {
	logger  *slog.Logger
	baseURL string
	client  *http.Client
}

func NewAdapter(log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		logger:  log.With(slog.String("adapter", "slack")),
		baseURL: defaultAPIBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Type returns the Slack channel type.
func (a *Adapter) Type() channel.Type {
	return channel.TypeSlack
}

// ParseEnvelope decodes the outer Events API payload. The HTTP handler uses
// it to answer url_verification challenges before normalization.
func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// Normalize extracts a user message from an event callback. Bot-authored
// events are dropped so the assistant never replies to itself; only direct
// messages and app mentions are accepted.
func (a *Adapter) Normalize(raw []byte) (channel.Inbound, bool, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return channel.Inbound{}, false, err
	}
	if env.Type != "event_callback" {
		return channel.Inbound{}, false, nil
	}
	ev := env.Event
	if ev.BotID != "" || ev.Subtype == "bot_message" {
		return channel.Inbound{}, false, nil
	}
	isMention := ev.Type == "app_mention"
	isDirect := ev.Type == "message" && ev.ChannelType == "im"
	if !isMention && !isDirect {
		return channel.Inbound{}, false, nil
	}

	text := strings.TrimSpace(mentionPattern.ReplaceAllString(ev.Text, ""))
	if text == "" || ev.Channel == "" {
		return channel.Inbound{}, false, nil
	}

	thread := ev.ThreadTS
	if thread == "" {
		thread = ev.TS
	}
	return channel.Inbound{
		Channel:       channel.TypeSlack,
		ParticipantID: ev.Channel,
		ReplyTarget:   ev.Channel,
		Text:          text,
		ExternalID:    ev.TS,
		ThreadID:      thread,
		ReceivedAt:    time.Now().UTC(),
	}, true, nil
}

// Dispatch posts the reply with chat.postMessage, threading when the inbound
// message carried a thread reference.
func (a *Adapter) Dispatch(ctx context.Context, cred channel.Credential, msg channel.Outbound) error {
	if !cred.Connected || cred.AuthSecret == "" {
		return channel.ErrNotConnected
	}
	if msg.IsEmpty() {
		return fmt.Errorf("message is required")
	}
	payload := map[string]string{
		"channel": msg.Target,
		"text":    msg.Text,
	}
	if msg.ThreadID != "" {
		payload["thread_ts"] = msg.ThreadID
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := a.call(ctx, cred.AuthSecret, "chat.postMessage", payload, &result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("chat.postMessage: %s", result.Error)
	}
	return nil
}

// ValidateCredential calls auth.test to confirm the bot token works.
func (a *Adapter) ValidateCredential(ctx context.Context, cred channel.Credential) (channel.Identity, error) {
	if strings.TrimSpace(cred.AuthSecret) == "" {
		return channel.Identity{}, fmt.Errorf("bot token is required")
	}
	var result struct {
		OK     bool   `json:"ok"`
		Error  string `json:"error"`
		Team   string `json:"team"`
		TeamID string `json:"team_id"`
	}
	if err := a.call(ctx, cred.AuthSecret, "auth.test", map[string]string{}, &result); err != nil {
		return channel.Identity{}, err
	}
	if !result.OK {
		return channel.Identity{}, fmt.Errorf("auth.test: %s", result.Error)
	}
	return channel.Identity{
		ExternalAccountID: result.TeamID,
		DisplayName:       result.Team,
	}, nil
}

func (a *Adapter) call(ctx context.Context, token, method string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("call %s: status %d", method, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}
