package slack

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vionhq/vion/internal/channel"
)

func TestNormalize_DirectMessage(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	raw := []byte(`{
		"type": "event_callback",
		"event": {
			"type": "message",
			"channel_type": "im",
			"user": "U123",
			"text": "need help with my order",
			"ts": "1700000000.000100",
			"channel": "D456"
		}
	}`)

	msg, ok, err := adapter.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !ok {
		t.Fatal("expected message to be accepted")
	}
	if msg.ParticipantID != "D456" || msg.ReplyTarget != "D456" {
		t.Fatalf("participant/target = %s/%s", msg.ParticipantID, msg.ReplyTarget)
	}
	if msg.ExternalID != "1700000000.000100" {
		t.Fatalf("external id = %q", msg.ExternalID)
	}
	if msg.ThreadID != "1700000000.000100" {
		t.Fatalf("thread = %q", msg.ThreadID)
	}
}

func TestNormalize_MentionStripped(t *testing.T) {
	t.Parallel()

	adapter := NewAdapter(nil)
	raw := []byte(`{
		"type": "event_callback",
		"event": {
			"type": "app_mention",
			"user": "U123",
			"text": "<@UBOT42> what are your opening hours?",
			"ts": "1.2",
			"thread_ts": "1.0",
			"channel": "C789"
		}
	}`)

	msg, ok, err := adapter.Normalize(raw)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !ok {
		t.Fatal("expected mention to be accepted")
	}
	if msg.Text != "what are your opening hours?" {
		t.Fatalf("text = %q", msg.Text)
	}
	if msg.ThreadID != "1.0" {
		t.Fatalf("thread = %q", msg.ThreadID)
	}
}

func TestNormalize_IgnoredEvents(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{"url verification", `{"type":"url_verification","challenge":"abc"}`},
		{"bot echo", `{"type":"event_callback","event":{"type":"message","channel_type":"im","bot_id":"B1","text":"hi","channel":"D1","ts":"1"}}`},
		{"bot subtype", `{"type":"event_callback","event":{"type":"message","channel_type":"im","subtype":"bot_message","text":"hi","channel":"D1","ts":"1"}}`},
		{"public non-mention", `{"type":"event_callback","event":{"type":"message","channel_type":"channel","text":"hi","channel":"C1","ts":"1"}}`},
		{"mention only", `{"type":"event_callback","event":{"type":"app_mention","text":"<@UBOT42>","channel":"C1","ts":"1"}}`},
	}
	adapter := NewAdapter(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, ok, err := adapter.Normalize([]byte(tc.raw))
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if ok {
				t.Fatal("expected event to be ignored")
			}
		})
	}
}

func TestParseEnvelope_Challenge(t *testing.T) {
	t.Parallel()

	env, err := ParseEnvelope([]byte(`{"type":"url_verification","challenge":"c0ffee"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Type != "url_verification" || env.Challenge != "c0ffee" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDispatch_PostsToThread(t *testing.T) {
	t.Parallel()

	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer xoxb-token" {
			t.Errorf("authorization = %s", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	adapter := NewAdapter(nil)
	adapter.baseURL = server.URL
	cred := channel.Credential{Connected: true, AuthSecret: "xoxb-token"}
	err := adapter.Dispatch(t.Context(), cred, channel.Outbound{
		Target:   "D456",
		Text:     "we open at nine",
		ThreadID: "1.0",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got["channel"] != "D456" || got["text"] != "we open at nine" || got["thread_ts"] != "1.0" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestDispatch_APIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer server.Close()

	adapter := NewAdapter(nil)
	adapter.baseURL = server.URL
	cred := channel.Credential{Connected: true, AuthSecret: "xoxb-token"}
	err := adapter.Dispatch(t.Context(), cred, channel.Outbound{Target: "D456", Text: "hi"})
	if err == nil {
		t.Fatal("expected error from not-ok response")
	}
}

func TestValidateCredential(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth.test" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ok":true,"team":"Acme","team_id":"T99"}`))
	}))
	defer server.Close()

	adapter := NewAdapter(nil)
	adapter.baseURL = server.URL
	identity, err := adapter.ValidateCredential(t.Context(), channel.Credential{AuthSecret: "xoxb-token"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if identity.ExternalAccountID != "T99" || identity.DisplayName != "Acme" {
		t.Fatalf("identity = %+v", identity)
	}
}
