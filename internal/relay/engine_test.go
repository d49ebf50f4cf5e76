package relay

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"ai-chatrelay-be/internal/constant"
	"ai-chatrelay-be/internal/entity"
	"ai-chatrelay-be/internal/websocket"
	"ai-chatrelay-be/pkg/events"
	"ai-chatrelay-be/pkg/provider"
	"ai-chatrelay-be/pkg/segmenter"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// --- Test doubles ---

type nopLogger struct{}

func (nopLogger) Debug(string, string, map[string]interface{}) {}
func (nopLogger) Info(string, string, map[string]interface{})  {}
func (nopLogger) Warn(string, string, map[string]interface{})  {}
func (nopLogger) Error(string, string, map[string]interface{}) {}
func (nopLogger) Sync() error                                  { return nil }

// scriptedTransport feeds inbound frames in order, then reports the
// connection as closed.
type scriptedTransport struct {
	frames [][]byte
	pos    int
}

func (s *scriptedTransport) ReadMessage() (int, []byte, error) {
	if s.pos >= len(s.frames) {
		return 0, nil, errors.New("connection closed")
	}
	f := s.frames[s.pos]
	s.pos++
	return 1, f, nil
}

// recordingHandle captures every payload written to the client. failAfter > 0
// makes the N+1th write (and all later ones) fail.
type recordingHandle struct {
	payloads  []Payload
	failAfter int
	closed    bool
}

func (h *recordingHandle) WriteJSON(v interface{}) error {
	if h.failAfter > 0 && len(h.payloads) >= h.failAfter {
		return errors.New("write: broken pipe")
	}
	h.payloads = append(h.payloads, v.(Payload))
	return nil
}

func (h *recordingHandle) Close() error {
	h.closed = true
	return nil
}

func (h *recordingHandle) types() []string {
	out := make([]string, len(h.payloads))
	for i, p := range h.payloads {
		out[i] = p.Type
	}
	return out
}

type appendCall struct {
	sender    string
	content   string
	reference string
}

type fakeStore struct {
	mu        sync.Mutex
	appends   []appendCall
	history   []*entity.ChatMessage
	appendErr error
	gotLimit  int
}

func (f *fakeStore) AppendMessage(ctx context.Context, sessionID uuid.UUID, sender, content, reference string) (*entity.ChatMessage, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	f.mu.Lock()
	f.appends = append(f.appends, appendCall{sender: sender, content: content, reference: reference})
	f.mu.Unlock()
	return &entity.ChatMessage{Id: uuid.New(), ChatSessionId: sessionID, Sender: sender, Content: content}, nil
}

// RecentMessages honors limit the way the real store does: the most recent
// window, oldest-first.
func (f *fakeStore) RecentMessages(ctx context.Context, sessionID, userID uuid.UUID, limit int) ([]*entity.ChatMessage, error) {
	f.mu.Lock()
	f.gotLimit = limit
	f.mu.Unlock()
	if limit > 0 && len(f.history) > limit {
		return f.history[len(f.history)-limit:], nil
	}
	return f.history, nil
}

type fakeProvider struct {
	result  provider.Result
	calls   int
	gotHist []provider.Message
}

func (f *fakeProvider) Ask(ctx context.Context, query, sessionID string, history []provider.Message) provider.Result {
	f.calls++
	f.gotHist = history
	return f.result
}

type fakeSink struct {
	events []events.TurnCompleted
}

func (f *fakeSink) TurnCompleted(evt events.TurnCompleted) {
	f.events = append(f.events, evt)
}

func frame(msg string) []byte {
	return []byte(`{"message":"` + msg + `"}`)
}

func newTestEngine(store *fakeStore, prov *fakeProvider, sink EventSink) *Engine {
	registry := websocket.NewSessionRegistry(nopLogger{})
	return NewEngine(registry, store, prov, segmenter.Segment, sink, nopLogger{}, 0, 10)
}

// --- Tests ---

func TestRunHappyPathTurn(t *testing.T) {
	store := &fakeStore{}
	prov := &fakeProvider{result: provider.Result{
		Kind:      provider.KindSuccess,
		Answer:    "hello world",
		Reference: "book.pdf",
	}}
	sink := &fakeSink{}
	engine := newTestEngine(store, prov, sink)

	sessionID, userID := uuid.New(), uuid.New()
	transport := &scriptedTransport{frames: [][]byte{frame("Why is the sky blue?")}}
	handle := &recordingHandle{}

	engine.Run(context.Background(), transport, handle, sessionID, userID)

	assert.Equal(t, []string{
		constant.PayloadTypeInfo,
		constant.PayloadTypeStatus,
		constant.PayloadTypeChunk,
		constant.PayloadTypeChunk,
		constant.PayloadTypeComplete,
	}, handle.types())

	assert.Equal(t, "Connected to chat session "+sessionID.String(), handle.payloads[0].Content)
	assert.Equal(t, constant.StatusProcessingText, handle.payloads[1].Content)
	assert.Equal(t, "hello ", handle.payloads[2].Content)
	assert.Equal(t, "world ", handle.payloads[3].Content)
	assert.Equal(t, constant.ResponseCompleteText, handle.payloads[4].Content)

	// User message first, then the bot message rebuilt from the chunks.
	assert.Len(t, store.appends, 2)
	assert.Equal(t, constant.ChatMessageRoleUser, store.appends[0].sender)
	assert.Equal(t, "Why is the sky blue?", store.appends[0].content)
	assert.Equal(t, constant.ChatMessageRoleBot, store.appends[1].sender)
	assert.Equal(t, "hello world ", store.appends[1].content)
	assert.Equal(t, `"book.pdf"`, store.appends[1].reference)

	assert.Len(t, sink.events, 1)
	assert.Equal(t, "Why is the sky blue?", sink.events[0].Question)
	assert.False(t, sink.events[0].Degraded)
}

func TestRunDegradesProviderFailuresToApology(t *testing.T) {
	tests := []struct {
		name     string
		result   provider.Result
		wantText string
	}{
		{"timeout", provider.Result{Kind: provider.KindTimeout}, constant.ApologyTimeoutText},
		{"network", provider.Result{Kind: provider.KindNetworkError, Err: errors.New("refused")}, constant.ApologyNetworkText},
		{"upstream", provider.Result{Kind: provider.KindUpstreamError, Status: 500}, constant.ApologyGenericText},
		{"malformed", provider.Result{Kind: provider.KindMalformedResponse, Err: errors.New("bad json")}, constant.ApologyGenericText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			engine := newTestEngine(store, &fakeProvider{result: tt.result}, nil)

			transport := &scriptedTransport{frames: [][]byte{frame("question")}}
			handle := &recordingHandle{}
			engine.Run(context.Background(), transport, handle, uuid.New(), uuid.New())

			// The client still gets a complete frame, and the apology
			// arrives as exactly one chunk.
			last := handle.payloads[len(handle.payloads)-1]
			assert.Equal(t, constant.PayloadTypeComplete, last.Type)

			var chunks []string
			for _, p := range handle.payloads {
				if p.Type == constant.PayloadTypeChunk {
					chunks = append(chunks, p.Content)
				}
			}
			assert.Equal(t, []string{tt.wantText}, chunks)

			// The canned text is persisted verbatim, with no reference.
			assert.Len(t, store.appends, 2)
			assert.Equal(t, tt.wantText, store.appends[1].content)
			assert.Empty(t, store.appends[1].reference)
		})
	}
}

func TestRunMalformedInboundDropsTurnNotConnection(t *testing.T) {
	store := &fakeStore{}
	prov := &fakeProvider{result: provider.Result{Kind: provider.KindSuccess, Answer: "ok"}}
	engine := newTestEngine(store, prov, nil)

	transport := &scriptedTransport{frames: [][]byte{
		[]byte("this is not json"),
		frame("real question"),
	}}
	handle := &recordingHandle{}
	engine.Run(context.Background(), transport, handle, uuid.New(), uuid.New())

	// The bad frame caused no provider call and no persistence; the good
	// frame still went through a full turn.
	assert.Equal(t, 1, prov.calls)
	assert.Len(t, store.appends, 2)
	assert.Equal(t, "real question", store.appends[0].content)
}

func TestRunIgnoresBlankMessages(t *testing.T) {
	store := &fakeStore{}
	prov := &fakeProvider{result: provider.Result{Kind: provider.KindSuccess, Answer: "ok"}}
	engine := newTestEngine(store, prov, nil)

	transport := &scriptedTransport{frames: [][]byte{
		frame("   "),
		frame(""),
	}}
	handle := &recordingHandle{}
	engine.Run(context.Background(), transport, handle, uuid.New(), uuid.New())

	assert.Equal(t, 0, prov.calls)
	assert.Empty(t, store.appends)
	// Only the connection greeting went out.
	assert.Equal(t, []string{constant.PayloadTypeInfo}, handle.types())
}

func TestRunQueriesProviderWhenUserPersistFails(t *testing.T) {
	store := &fakeStore{appendErr: errors.New("db down")}
	prov := &fakeProvider{result: provider.Result{Kind: provider.KindSuccess, Answer: "ok"}}
	engine := newTestEngine(store, prov, nil)

	transport := &scriptedTransport{frames: [][]byte{frame("question")}}
	handle := &recordingHandle{}
	engine.Run(context.Background(), transport, handle, uuid.New(), uuid.New())

	// Persistence is best-effort: the turn still reached the provider and
	// the client still got its complete frame.
	assert.Equal(t, 1, prov.calls)
	last := handle.payloads[len(handle.payloads)-1]
	assert.Equal(t, constant.PayloadTypeComplete, last.Type)
}

func TestRunAbortMidStreamPersistsPartialAnswer(t *testing.T) {
	store := &fakeStore{}
	prov := &fakeProvider{result: provider.Result{
		Kind:      provider.KindSuccess,
		Answer:    "hello world",
		Reference: "book.pdf",
	}}
	sink := &fakeSink{}
	engine := newTestEngine(store, prov, sink)

	// info, status, first chunk succeed; the second chunk write fails.
	transport := &scriptedTransport{frames: [][]byte{frame("question"), frame("never reached")}}
	handle := &recordingHandle{failAfter: 3}
	engine.Run(context.Background(), transport, handle, uuid.New(), uuid.New())

	// Only the delivered prefix is persisted, without the reference, and the
	// connection ends without a complete frame or a second turn.
	assert.Len(t, store.appends, 2)
	assert.Equal(t, "hello ", store.appends[1].content)
	assert.Empty(t, store.appends[1].reference)
	assert.NotContains(t, handle.types(), constant.PayloadTypeComplete)
	assert.Empty(t, sink.events)
}

func TestRunPassesHistoryToProvider(t *testing.T) {
	store := &fakeStore{history: []*entity.ChatMessage{
		{Sender: constant.ChatMessageRoleUser, Content: "earlier question"},
		{Sender: constant.ChatMessageRoleBot, Content: "earlier answer"},
	}}
	prov := &fakeProvider{result: provider.Result{Kind: provider.KindSuccess, Answer: "ok"}}
	engine := newTestEngine(store, prov, nil)

	transport := &scriptedTransport{frames: [][]byte{frame("follow-up")}}
	engine.Run(context.Background(), transport, &recordingHandle{}, uuid.New(), uuid.New())

	assert.Equal(t, []provider.Message{
		{Role: constant.ChatMessageRoleUser, Content: "earlier question"},
		{Role: constant.ChatMessageRoleBot, Content: "earlier answer"},
	}, prov.gotHist)
}

func TestRunEmptyAnswerStreamsFallback(t *testing.T) {
	store := &fakeStore{}
	prov := &fakeProvider{result: provider.Result{Kind: provider.KindSuccess, Answer: ""}}
	engine := newTestEngine(store, prov, nil)

	transport := &scriptedTransport{frames: [][]byte{frame("question")}}
	handle := &recordingHandle{}
	engine.Run(context.Background(), transport, handle, uuid.New(), uuid.New())

	var chunks []string
	for _, p := range handle.payloads {
		if p.Type == constant.PayloadTypeChunk {
			chunks = append(chunks, p.Content)
		}
	}
	assert.Equal(t, []string{segmenter.FallbackChunk}, chunks)
}

func TestRunBoundsHistoryWindow(t *testing.T) {
	store := &fakeStore{}
	for i := 1; i <= 15; i++ {
		store.history = append(store.history, &entity.ChatMessage{
			Sender:  constant.ChatMessageRoleUser,
			Content: "message " + strconv.Itoa(i),
		})
	}
	prov := &fakeProvider{result: provider.Result{Kind: provider.KindSuccess, Answer: "ok"}}
	engine := newTestEngine(store, prov, nil)

	transport := &scriptedTransport{frames: [][]byte{frame("question 16")}}
	engine.Run(context.Background(), transport, &recordingHandle{}, uuid.New(), uuid.New())

	// The window is requested and delivered at the configured bound of 10,
	// keeping only the most recent entries.
	assert.Equal(t, 10, store.gotLimit)
	assert.Len(t, prov.gotHist, 10)
	assert.Equal(t, "message 6", prov.gotHist[0].Content)
	assert.Equal(t, "message 15", prov.gotHist[9].Content)
}

// sessionAnswers answers each session with its own text.
type sessionAnswers map[string]string

func (p sessionAnswers) Ask(ctx context.Context, query, sessionID string, history []provider.Message) provider.Result {
	return provider.Result{Kind: provider.KindSuccess, Answer: p[sessionID]}
}

func TestRunConcurrentSessionsDoNotInterleaveStreams(t *testing.T) {
	sessionA, sessionB := uuid.New(), uuid.New()
	prov := sessionAnswers{
		sessionA.String(): "alpha answer text",
		sessionB.String(): "beta reply words here",
	}

	// One engine, one registry, two live connections, with chunk pacing on
	// so the two streams genuinely overlap in time.
	registry := websocket.NewSessionRegistry(nopLogger{})
	engine := NewEngine(registry, &fakeStore{}, prov, segmenter.Segment, nil, nopLogger{}, time.Millisecond, 10)

	handleA := &recordingHandle{}
	handleB := &recordingHandle{}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		transport := &scriptedTransport{frames: [][]byte{frame("question a")}}
		engine.Run(context.Background(), transport, handleA, sessionA, uuid.New())
	}()
	go func() {
		defer wg.Done()
		transport := &scriptedTransport{frames: [][]byte{frame("question b")}}
		engine.Run(context.Background(), transport, handleB, sessionB, uuid.New())
	}()
	wg.Wait()

	assertOwnStreamOnly(t, handleA, "alpha answer text")
	assertOwnStreamOnly(t, handleB, "beta reply words here")
}

// assertOwnStreamOnly checks a handle saw exactly one well-ordered turn whose
// chunks rebuild its own answer and nothing else.
func assertOwnStreamOnly(t *testing.T, h *recordingHandle, answer string) {
	t.Helper()

	wantTypes := []string{constant.PayloadTypeInfo, constant.PayloadTypeStatus}
	var streamed string
	for _, p := range h.payloads[2 : len(h.payloads)-1] {
		assert.Equal(t, constant.PayloadTypeChunk, p.Type)
		streamed += p.Content
		wantTypes = append(wantTypes, constant.PayloadTypeChunk)
	}
	wantTypes = append(wantTypes, constant.PayloadTypeComplete)

	assert.Equal(t, wantTypes, h.types())
	assert.Equal(t, answer+" ", streamed)
}

func TestAccumulateSpacing(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{"space-suffixed words", []string{"hello ", "world "}, "hello world "},
		{"bare tokens get re-spaced", []string{"A", "B"}, "A B"},
		{"separator needs no extra space", []string{"A", "\n\n", "B"}, "A\n\nB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cur turn
			for _, c := range tt.chunks {
				cur.accumulate(c)
			}
			assert.Equal(t, tt.want, cur.accumulated.String())
		})
	}
}
