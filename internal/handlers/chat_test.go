package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/vionhq/vion/internal/channel"
	"github.com/vionhq/vion/internal/chat"
	"github.com/vionhq/vion/internal/conversation"
	"github.com/vionhq/vion/internal/session"
)

func TestChat_JSONReply(t *testing.T) {
	t.Parallel()

	svc := &fakeConversation{
		reply: conversation.Reply{
			Session: session.Session{ID: "sess-1"},
			Text:    "hello there",
			Result:  chat.Result{Content: "hello there", Provider: "openai", Model: "gpt-4o"},
		},
	}
	h := NewChatHandler(nil, svc)

	c, rec := newTestContext(http.MethodPost, "/api/chat",
		`{"tenant_id":"acme","visitor_id":"v-1","message":"hi"}`)
	if err := h.Chat(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.Content != "hello there" || resp.SessionID != "sess-1" || resp.Provider != "openai" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	calls := svc.inboundCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 inbound call, got %d", len(calls))
	}
	if calls[0].tenantID != "acme" {
		t.Fatalf("unexpected tenant: %q", calls[0].tenantID)
	}
	if calls[0].inbound.Channel != channel.TypeWeb || calls[0].inbound.ParticipantID != "v-1" {
		t.Fatalf("unexpected inbound: %+v", calls[0].inbound)
	}
}

func TestChat_AcceptsMessageList(t *testing.T) {
	t.Parallel()

	svc := &fakeConversation{
		reply: conversation.Reply{
			Session: session.Session{ID: "sess-1"},
			Text:    "sure",
			Result:  chat.Result{Content: "sure", Provider: "openai"},
		},
	}
	h := NewChatHandler(nil, svc)

	// The latest user entry wins, not the trailing assistant one.
	c, _ := newTestContext(http.MethodPost, "/api/chat",
		`{"tenant_id":"acme","visitor_id":"v-1","messages":[
			{"role":"user","content":"first"},
			{"role":"assistant","content":"answer"},
			{"role":"user","content":"second"}]}`)
	if err := h.Chat(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	calls := svc.inboundCalls()
	if len(calls) != 1 || calls[0].inbound.Text != "second" {
		t.Fatalf("unexpected inbound calls: %+v", calls)
	}
}

func TestChat_RejectsEmptyMessageList(t *testing.T) {
	t.Parallel()

	h := NewChatHandler(nil, &fakeConversation{})
	c, _ := newTestContext(http.MethodPost, "/api/chat",
		`{"tenant_id":"acme","visitor_id":"v-1","messages":[{"role":"assistant","content":"hi"}]}`)

	err := h.Chat(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestChat_RejectsMissingFields(t *testing.T) {
	t.Parallel()

	h := NewChatHandler(nil, &fakeConversation{})
	c, _ := newTestContext(http.MethodPost, "/api/chat", `{"tenant_id":"acme"}`)

	err := h.Chat(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected http error, got %v", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", httpErr.Code)
	}
}

func TestChat_StreamWritesSSE(t *testing.T) {
	t.Parallel()

	svc := &fakeConversation{
		chunks: []chat.StreamChunk{
			{Content: "hel", Provider: "openai"},
			{Content: "lo", Provider: "openai", FinishReason: "stop"},
		},
		reply: conversation.Reply{
			Session: session.Session{ID: "sess-1"},
			Text:    "hello",
			Result:  chat.Result{Content: "hello", Provider: "openai"},
		},
	}
	h := NewChatHandler(nil, svc)

	c, rec := newTestContext(http.MethodPost, "/api/chat",
		`{"tenant_id":"acme","visitor_id":"v-1","message":"hi","stream":true}`)
	if err := h.Chat(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := rec.Body.String()
	if !strings.Contains(body, `"content":"hel"`) || !strings.Contains(body, `"content":"lo"`) {
		t.Fatalf("expected chunk payloads, got %q", body)
	}
	if !strings.Contains(body, "data: [DONE]") {
		t.Fatalf("expected done marker, got %q", body)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("unexpected content type: %q", ct)
	}
}

func TestChat_StreamReportsError(t *testing.T) {
	t.Parallel()

	svc := &fakeConversation{err: errAllProvidersDown}
	h := NewChatHandler(nil, svc)

	c, rec := newTestContext(http.MethodPost, "/api/chat",
		`{"tenant_id":"acme","visitor_id":"v-1","message":"hi","stream":true}`)
	if err := h.Chat(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "event: error") {
		t.Fatalf("expected error event, got %q", rec.Body.String())
	}
}
