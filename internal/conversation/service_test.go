package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vionhq/vion/internal/channel"
	"github.com/vionhq/vion/internal/chat"
	"github.com/vionhq/vion/internal/session"
	"github.com/vionhq/vion/internal/usage"
)

// --- fakes ---

type fakeStore struct {
	mu         sync.Mutex
	sessions   map[string]session.Session
	messages   []session.Message
	paused     map[string]bool
	failAppend bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]session.Session),
		paused:   make(map[string]bool),
	}
}

func (f *fakeStore) Ensure(ctx context.Context, key session.Key) (session.Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := key.SessionID()
	if sess, ok := f.sessions[id]; ok {
		sess.Paused = f.paused[id]
		return sess, false, nil
	}
	sess := session.Session{
		ID:            id,
		TenantID:      key.TenantID,
		Channel:       key.Channel,
		ParticipantID: key.ParticipantID,
		CreatedAt:     time.Now(),
	}
	f.sessions[id] = sess
	return sess, true, nil
}

func (f *fakeStore) Get(ctx context.Context, sessionID string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[sessionID]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	sess.Paused = f.paused[sessionID]
	return sess, nil
}

func (f *fakeStore) History(ctx context.Context, sessionID string, limit int) ([]session.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.Message
	for _, msg := range f.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeStore) Append(ctx context.Context, msg session.Message) (session.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppend {
		return session.Message{}, false, errors.New("append failed")
	}
	if msg.ExternalID != "" {
		for _, existing := range f.messages {
			if existing.SessionID == msg.SessionID && existing.ExternalID == msg.ExternalID {
				return session.Message{}, false, nil
			}
		}
	}
	msg.ID = uuid.NewString()
	msg.Seq = int64(len(f.messages) + 1)
	f.messages = append(f.messages, msg)
	return msg, true, nil
}

func (f *fakeStore) SetSentiment(ctx context.Context, messageID, sentiment string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if f.messages[i].ID == messageID {
			f.messages[i].Sentiment = sentiment
		}
	}
	return nil
}

func (f *fakeStore) byRole(role session.Role) []session.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []session.Message
	for _, msg := range f.messages {
		if msg.Role == role {
			out = append(out, msg)
		}
	}
	return out
}

type fakeCreds struct {
	cred channel.Credential
	err  error
}

func (f *fakeCreds) Credential(ctx context.Context, tenantID string, ch channel.Type) (channel.Credential, error) {
	if f.err != nil {
		return channel.Credential{}, f.err
	}
	return f.cred, nil
}

type recordingAdapter struct {
	channelType channel.Type
	mu          sync.Mutex
	dispatched  []channel.Outbound
	dispatchErr error
}

func (a *recordingAdapter) Type() channel.Type { return a.channelType }

func (a *recordingAdapter) Normalize(raw []byte) (channel.Inbound, bool, error) {
	return channel.Inbound{}, false, nil
}

func (a *recordingAdapter) Dispatch(ctx context.Context, cred channel.Credential, msg channel.Outbound) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dispatched = append(a.dispatched, msg)
	return a.dispatchErr
}

func (a *recordingAdapter) ValidateCredential(ctx context.Context, cred channel.Credential) (channel.Identity, error) {
	return channel.Identity{}, nil
}

func (a *recordingAdapter) sent() []channel.Outbound {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]channel.Outbound(nil), a.dispatched...)
}

type fakeGenerator struct {
	result chat.Result
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(ctx context.Context, req chat.Request) (chat.Result, []chat.Attempt, error) {
	f.calls++
	return f.result, nil, f.err
}

type fakeRelay struct {
	chunks []chat.StreamChunk
	result chat.Result
	err    error
}

func (f *fakeRelay) Run(ctx context.Context, req chat.Request, sink chat.Sink) (chat.Result, error) {
	for _, chunk := range f.chunks {
		if sink != nil {
			_ = sink(chunk)
		}
	}
	return f.result, f.err
}

type fakeTracker struct {
	mu      sync.Mutex
	records []usage.Record
}

func (f *fakeTracker) Track(rec usage.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
}

func (f *fakeTracker) all() []usage.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]usage.Record(nil), f.records...)
}

type fakeAlerter struct {
	called chan string
}

func (f *fakeAlerter) SessionStarted(ctx context.Context, sess session.Session, firstMessage string) {
	select {
	case f.called <- sess.ID:
	default:
	}
}

// --- helpers ---

func testService(t *testing.T, store *fakeStore, adapter *recordingAdapter, gen *fakeGenerator, opts Options) *Service {
	t.Helper()
	registry := channel.NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("register adapter: %v", err)
	}
	creds := &fakeCreds{cred: channel.Credential{Connected: true, AuthSecret: "token"}}
	return NewService(nil, store, creds, registry, gen, nil, opts)
}

func telegramInbound(text, externalID string) channel.Inbound {
	return channel.Inbound{
		Channel:       channel.TypeTelegram,
		ParticipantID: "chat-42",
		ReplyTarget:   "chat-42",
		Text:          text,
		ExternalID:    externalID,
	}
}

// --- tests ---

func TestHandleInbound_GeneratesAndDispatches(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	adapter := &recordingAdapter{channelType: channel.TypeTelegram}
	gen := &fakeGenerator{result: chat.Result{
		Content:  "we open at nine",
		Model:    "gpt-4o",
		Provider: "openai",
		Usage:    chat.Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
	}}
	tracker := &fakeTracker{}
	svc := testService(t, store, adapter, gen, Options{Meter: tracker})

	reply, err := svc.HandleInbound(t.Context(), "tenant-1", telegramInbound("when do you open?", "msg-1"), nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.Text != "we open at nine" {
		t.Fatalf("reply = %q", reply.Text)
	}

	if users := store.byRole(session.RoleUser); len(users) != 1 || users[0].Content != "when do you open?" {
		t.Fatalf("user messages = %+v", users)
	}
	assistants := store.byRole(session.RoleAssistant)
	if len(assistants) != 1 || assistants[0].Content != "we open at nine" {
		t.Fatalf("assistant messages = %+v", assistants)
	}
	if assistants[0].IsHuman {
		t.Fatal("AI reply must not be flagged as human")
	}

	sent := adapter.sent()
	if len(sent) != 1 || sent[0].Target != "chat-42" || sent[0].Text != "we open at nine" {
		t.Fatalf("dispatched = %+v", sent)
	}
	records := tracker.all()
	if len(records) != 1 || records[0].InputTokens != 20 || records[0].OutputTokens != 8 {
		t.Fatalf("usage = %+v", records)
	}
}

func TestHandleInbound_PausedSessionStoresWithoutReply(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	adapter := &recordingAdapter{channelType: channel.TypeTelegram}
	gen := &fakeGenerator{result: chat.Result{Content: "should not appear"}}
	svc := testService(t, store, adapter, gen, Options{})

	// First message creates the session; then an operator pauses it.
	if _, err := svc.HandleInbound(t.Context(), "tenant-1", telegramInbound("hi", "m1"), nil); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	key := session.Key{Channel: channel.TypeTelegram, TenantID: "tenant-1", ParticipantID: "chat-42"}
	store.paused[key.SessionID()] = true

	reply, err := svc.HandleInbound(t.Context(), "tenant-1", telegramInbound("anyone there?", "m2"), nil)
	if err != nil {
		t.Fatalf("paused handle: %v", err)
	}
	if !reply.Paused {
		t.Fatal("expected paused reply")
	}

	// The user message is stored even while paused; no new AI reply exists.
	users := store.byRole(session.RoleUser)
	if len(users) != 2 || users[1].Content != "anyone there?" {
		t.Fatalf("user messages = %+v", users)
	}
	if assistants := store.byRole(session.RoleAssistant); len(assistants) != 1 {
		t.Fatalf("assistant messages while paused = %+v", assistants)
	}
	if gen.calls != 1 {
		t.Fatalf("generator called %d times, want 1", gen.calls)
	}
}

func TestHandleInbound_DuplicateDeliveryIgnored(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	adapter := &recordingAdapter{channelType: channel.TypeTelegram}
	gen := &fakeGenerator{result: chat.Result{Content: "hello"}}
	svc := testService(t, store, adapter, gen, Options{})

	if _, err := svc.HandleInbound(t.Context(), "tenant-1", telegramInbound("hi", "same-id"), nil); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	reply, err := svc.HandleInbound(t.Context(), "tenant-1", telegramInbound("hi", "same-id"), nil)
	if err != nil {
		t.Fatalf("retry delivery: %v", err)
	}
	if !reply.Duplicate {
		t.Fatal("expected duplicate flag")
	}
	if gen.calls != 1 {
		t.Fatalf("generator called %d times for a retried delivery", gen.calls)
	}
	if users := store.byRole(session.RoleUser); len(users) != 1 {
		t.Fatalf("user stored %d times", len(users))
	}
}

func TestHandleInbound_NewSessionAlertsOperator(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	adapter := &recordingAdapter{channelType: channel.TypeTelegram}
	gen := &fakeGenerator{result: chat.Result{Content: "hello"}}
	alerter := &fakeAlerter{called: make(chan string, 1)}
	svc := testService(t, store, adapter, gen, Options{Alerter: alerter})

	if _, err := svc.HandleInbound(t.Context(), "tenant-1", telegramInbound("first contact", "m1"), nil); err != nil {
		t.Fatalf("handle: %v", err)
	}
	select {
	case <-alerter.called:
	case <-time.After(2 * time.Second):
		t.Fatal("operator alert never fired")
	}

	// Second message in the same session must not alert again.
	if _, err := svc.HandleInbound(t.Context(), "tenant-1", telegramInbound("another", "m2"), nil); err != nil {
		t.Fatalf("handle: %v", err)
	}
	select {
	case <-alerter.called:
		t.Fatal("alert fired for an existing session")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandleInbound_StreamingPersistsPartialOnError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	adapter := &recordingAdapter{channelType: channel.TypeWeb}
	registry := channel.NewRegistry()
	if err := registry.Register(adapter); err != nil {
		t.Fatalf("register: %v", err)
	}
	relay := &fakeRelay{
		chunks: []chat.StreamChunk{{Content: "partial "}},
		result: chat.Result{Content: "partial ", Provider: "openai"},
		err:    errors.New("stream died"),
	}
	creds := &fakeCreds{err: errors.New("no credential")}
	svc := NewService(nil, store, creds, registry, &fakeGenerator{}, relay, Options{})

	inbound := channel.Inbound{
		Channel:       channel.TypeWeb,
		ParticipantID: "visitor-9",
		ReplyTarget:   "visitor-9",
		Text:          "hello",
	}
	var streamed string
	_, err := svc.HandleInbound(t.Context(), "tenant-1", inbound, func(chunk chat.StreamChunk) error {
		streamed += chunk.Content
		return nil
	})
	if err == nil {
		t.Fatal("expected stream error to surface")
	}
	if streamed != "partial " {
		t.Fatalf("streamed = %q", streamed)
	}
	// Partial content is persisted despite the failure.
	assistants := store.byRole(session.RoleAssistant)
	if len(assistants) != 1 || assistants[0].Content != "partial " {
		t.Fatalf("assistant messages = %+v", assistants)
	}
}

func TestHandleInbound_SentimentRecorded(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	adapter := &recordingAdapter{channelType: channel.TypeTelegram}
	gen := &fakeGenerator{result: chat.Result{Content: "sorry to hear that"}}
	svc := testService(t, store, adapter, gen, Options{Sentiment: staticClassifier("negative")})

	if _, err := svc.HandleInbound(t.Context(), "tenant-1", telegramInbound("this is broken", "m1"), nil); err != nil {
		t.Fatalf("handle: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		users := store.byRole(session.RoleUser)
		if len(users) == 1 && users[0].Sentiment == "negative" {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("sentiment never recorded: %+v", users)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

type staticClassifier string

func (c staticClassifier) Classify(ctx context.Context, text string) string { return string(c) }

func TestOperatorReply_AppendsHumanAndDispatches(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	adapter := &recordingAdapter{channelType: channel.TypeTelegram}
	gen := &fakeGenerator{result: chat.Result{Content: "auto"}}
	svc := testService(t, store, adapter, gen, Options{})

	if _, err := svc.HandleInbound(t.Context(), "tenant-1", telegramInbound("hi", "m1"), nil); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	key := session.Key{Channel: channel.TypeTelegram, TenantID: "tenant-1", ParticipantID: "chat-42"}

	msg, err := svc.OperatorReply(t.Context(), key.SessionID(), "an agent here, how can I help?")
	if err != nil {
		t.Fatalf("operator reply: %v", err)
	}
	if !msg.IsHuman || msg.Role != session.RoleAssistant {
		t.Fatalf("message = %+v", msg)
	}
	if gen.calls != 1 {
		t.Fatal("operator reply must not invoke generation")
	}
	sent := adapter.sent()
	if len(sent) != 2 || sent[1].Text != "an agent here, how can I help?" {
		t.Fatalf("dispatched = %+v", sent)
	}
}

func TestOperatorReply_UnknownSession(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	adapter := &recordingAdapter{channelType: channel.TypeTelegram}
	svc := testService(t, store, adapter, &fakeGenerator{}, Options{})

	_, err := svc.OperatorReply(t.Context(), uuid.NewString(), "hello?")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
