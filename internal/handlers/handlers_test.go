package handlers

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/vionhq/vion/internal/channel"
	"github.com/vionhq/vion/internal/chat"
	"github.com/vionhq/vion/internal/conversation"
	"github.com/vionhq/vion/internal/session"
	"github.com/vionhq/vion/internal/tenant"
	"github.com/vionhq/vion/internal/usage"
)

var errAllProvidersDown = errors.New("all providers failed")

type inboundCall struct {
	tenantID string
	inbound  channel.Inbound
}

// fakeConversation scripts the conversation service for handler tests.
type fakeConversation struct {
	mu       sync.Mutex
	inbounds []inboundCall

	reply  conversation.Reply
	err    error
	chunks []chat.StreamChunk

	operatorMsg   session.Message
	operatorErr   error
	operatorCalls []string
}

func (f *fakeConversation) HandleInbound(ctx context.Context, tenantID string, inbound channel.Inbound, sink chat.Sink) (conversation.Reply, error) {
	f.mu.Lock()
	f.inbounds = append(f.inbounds, inboundCall{tenantID: tenantID, inbound: inbound})
	f.mu.Unlock()
	if sink != nil {
		for _, chunk := range f.chunks {
			if err := sink(chunk); err != nil {
				break
			}
		}
	}
	return f.reply, f.err
}

func (f *fakeConversation) OperatorReply(ctx context.Context, sessionID, text string) (session.Message, error) {
	f.mu.Lock()
	f.operatorCalls = append(f.operatorCalls, sessionID)
	f.mu.Unlock()
	if f.operatorErr != nil {
		return session.Message{}, f.operatorErr
	}
	return f.operatorMsg, nil
}

func (f *fakeConversation) inboundCalls() []inboundCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inboundCall(nil), f.inbounds...)
}

// fakeCreds serves scripted credentials keyed by channel.
type fakeCreds struct {
	creds map[channel.Type]channel.Credential
}

func (f *fakeCreds) Credential(ctx context.Context, tenantID string, ch channel.Type) (channel.Credential, error) {
	cred, ok := f.creds[ch]
	if !ok {
		return channel.Credential{}, tenant.ErrNoCredential
	}
	return cred, nil
}

// fakeSessions scripts the session store slice the operator API reads.
type fakeSessions struct {
	sessions map[string]session.Session
	history  []session.Message
	paused   map[string]bool
}

func (f *fakeSessions) Get(ctx context.Context, sessionID string) (session.Session, error) {
	sess, ok := f.sessions[sessionID]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return sess, nil
}

func (f *fakeSessions) History(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	if limit > 0 && limit < len(f.history) {
		return f.history[len(f.history)-limit:], nil
	}
	return f.history, nil
}

func (f *fakeSessions) TogglePause(ctx context.Context, sessionID string) (bool, error) {
	if _, ok := f.sessions[sessionID]; !ok {
		return false, session.ErrNotFound
	}
	f.paused[sessionID] = !f.paused[sessionID]
	return f.paused[sessionID], nil
}

func (f *fakeSessions) SetPaused(ctx context.Context, sessionID string, paused bool) (bool, error) {
	if _, ok := f.sessions[sessionID]; !ok {
		return false, session.ErrNotFound
	}
	prev := f.paused[sessionID]
	f.paused[sessionID] = paused
	return prev, nil
}

type fakeUsage struct {
	totals usage.Totals
}

func (f *fakeUsage) Snapshot(ctx context.Context, tenantID string) (usage.Totals, error) {
	totals := f.totals
	totals.TenantID = tenantID
	return totals, nil
}

func newTestContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewValidator()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}
