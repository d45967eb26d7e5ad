package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/asp-voice/bridge/pkg/asp"
	"github.com/asp-voice/bridge/pkg/session"
)

// --- chunker ---

func TestChunkerSentenceBoundaries(t *testing.T) {
	c := NewChunker(180)
	var got []string
	got = append(got, c.Push("Hello there. How ")...)
	got = append(got, c.Push("are you? Great!")...)
	if len(got) != 3 {
		t.Fatalf("expected 3 sentence chunks, got %v", got)
	}
	if got[0] != "Hello there." || got[1] != "How are you?" || got[2] != "Great!" {
		t.Fatalf("unexpected chunks: %v", got)
	}
}

func TestChunkerMaxCharsFallback(t *testing.T) {
	c := NewChunker(10)
	chunks := c.Push("one two three four five six seven")
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk once max_chunk_chars is exceeded")
	}
	for _, ch := range chunks {
		if len(ch) > 10 && !strings.Contains(ch, " ") {
			t.Fatalf("chunk %q exceeds max without a whitespace split point", ch)
		}
	}
}

func TestChunkerFlushReturnsRemainder(t *testing.T) {
	c := NewChunker(180)
	c.Push("no terminal punctuation here")
	rest := c.Flush()
	if rest != "no terminal punctuation here" {
		t.Fatalf("unexpected flush remainder: %q", rest)
	}
	if c.Flush() != "" {
		t.Fatal("expected empty buffer after flush")
	}
}

// --- entities ---

func TestExtractEntitiesName(t *testing.T) {
	got := ExtractEntities("Hi, my name is Dana and I'm calling about my order")
	if got["name"] != "Dana" {
		t.Fatalf("expected name=Dana, got %v", got)
	}
}

func TestExtractEntitiesNoMatch(t *testing.T) {
	got := ExtractEntities("just saying hello")
	if len(got) != 0 {
		t.Fatalf("expected no entities, got %v", got)
	}
}

// --- conversation context ---

type fakeSummarizer struct{ summary string }

func (f *fakeSummarizer) Generate(ctx context.Context, messages []Message, tools []ToolSpec, onEvent func(GenEvent) error) error {
	return nil
}
func (f *fakeSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	return f.summary, nil
}
func (f *fakeSummarizer) Name() string { return "fake-llm" }

func TestConversationPersistsEntitiesAcrossSummarise(t *testing.T) {
	conv := NewConversation("s1", 4)
	conv.AddUserTurn("my name is Alex")
	conv.AddAssistantTurn("Hi Alex", false)
	conv.AddUserTurn("question one")
	conv.AddAssistantTurn("answer one", false)
	conv.AddUserTurn("question two")
	conv.AddAssistantTurn("answer two", false)

	if err := conv.MaybeSummarize(context.Background(), &fakeSummarizer{summary: "chit chat"}); err != nil {
		t.Fatal(err)
	}

	msgs := conv.Messages("")
	found := false
	for _, m := range msgs {
		if strings.Contains(m.Content, "Alex") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected persisted entity slot to survive summarisation")
	}
}

func TestConversationAnnotatesInterruptedTurn(t *testing.T) {
	conv := NewConversation("s1", 20)
	conv.AddAssistantTurn("partial reply", true)
	msgs := conv.Messages("")
	if !strings.HasSuffix(msgs[len(msgs)-1].Content, "[interrupted]") {
		t.Fatalf("expected interrupted annotation, got %q", msgs[len(msgs)-1].Content)
	}
}

// --- fake providers for end-to-end pipeline tests ---

type fakeSTT struct{ text string }

func (f *fakeSTT) Transcribe(ctx context.Context, pcm []byte, sampleRate int, language string) (string, error) {
	return f.text, nil
}
func (f *fakeSTT) Name() string { return "fake-stt" }

type fakeLLM struct {
	text  string
	block chan struct{} // if set, Generate blocks on this until ctx is done
}

func (f *fakeLLM) Generate(ctx context.Context, messages []Message, tools []ToolSpec, onEvent func(GenEvent) error) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := onEvent(GenEvent{Kind: GenText, Text: f.text}); err != nil {
		return err
	}
	return onEvent(GenEvent{Kind: GenEnd})
}
func (f *fakeLLM) Summarize(ctx context.Context, messages []Message) (string, error) { return "", nil }
func (f *fakeLLM) Name() string                                                      { return "fake-llm" }

type fakeTTS struct {
	frames [][]byte
	block  chan struct{}
}

func (f *fakeTTS) StreamSynthesize(ctx context.Context, text string, voice string, sampleRate int, onFrame func([]byte) error) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, frame := range f.frames {
		if err := onFrame(frame); err != nil {
			return err
		}
	}
	return nil
}
func (f *fakeTTS) Abort() error { return nil }
func (f *fakeTTS) Name() string { return "fake-tts" }

// testHarness wires a real session.Server over a loopback websocket so
// RunTurn exercises its actual transport path, mirroring how the
// the provider tests spin up httptest + coder/websocket.
type testHarness struct {
	srv       *session.Server
	transport *asp.Transport
	client    *websocket.Conn
	httpSrv   *httptest.Server

	mu       sync.Mutex
	controls []any
	audio    []asp.AudioFrame
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{}
	ready := make(chan struct{})

	h.httpSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		h.transport = asp.NewTransport(conn, nil)
		h.srv, err = session.NewServer(h.transport, asp.Capabilities{}, session.DefaultTimers(), session.ServerHooks{}, nil)
		if err != nil {
			t.Error(err)
			return
		}
		close(ready)
		<-r.Context().Done()
	}))

	url := "ws" + strings.TrimPrefix(h.httpSrv.URL, "http")
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatal(err)
	}
	h.client = conn
	<-ready

	// Drive the server-side FSM straight to Active/Processing, bypassing
	// the session.start handshake and audio.end bookkeeping this test
	// doesn't exercise.
	h.srv.Session().Fire(session.TriggerSessionStart)
	h.srv.Session().Fire(session.TriggerSessionAccepted)
	h.srv.Session().Fire(session.TriggerUtteranceReady)
	h.srv.Session().OpenStream(0, "outbound")

	go h.readClient(t)
	return h
}

func (h *testHarness) readClient(t *testing.T) {
	for {
		typ, data, err := h.client.Read(context.Background())
		if err != nil {
			return
		}
		if typ == websocket.MessageBinary {
			f, err := asp.DecodeAudioFrame(data)
			if err != nil {
				continue
			}
			h.mu.Lock()
			h.audio = append(h.audio, f)
			h.mu.Unlock()
			continue
		}
		msg, err := asp.DecodeControl(data)
		if err != nil {
			continue
		}
		if _, ok := msg.(*asp.Capabilities); ok {
			// NewServer's opening advertisement, sent before any turn.
			continue
		}
		h.mu.Lock()
		h.controls = append(h.controls, msg)
		h.mu.Unlock()
	}
}

func (h *testHarness) close() {
	h.client.Close(websocket.StatusNormalClosure, "")
	h.httpSrv.Close()
}

func (h *testHarness) waitFor(t *testing.T, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		got := len(h.controls)
		h.mu.Unlock()
		if got >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d control messages", n)
}

func TestPipelineHappyPathStreamsResponse(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	p := New(&fakeSTT{text: "hello there"}, &fakeLLM{text: "hi, how can I help?"},
		&fakeTTS{frames: [][]byte{{1, 2}, {3, 4}}}, nil, DefaultConfig(), nil)

	turn := &Turn{
		Server:          h.srv,
		Transport:       h.transport,
		Conversation:    NewConversation(h.srv.Session().ID, 20),
		Audio:           []byte{0, 0, 0, 0},
		AudioSampleRate: 16000,
		Voice:           "F1",
		TTSSampleRate:   16000,
		UtteranceID:     "u1",
	}

	p.RunTurn(context.Background(), turn)
	h.waitFor(t, 2, time.Second)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.controls) < 2 {
		t.Fatalf("expected response.start and response.end, got %d controls", len(h.controls))
	}
	start, ok := h.controls[0].(*asp.ResponseStart)
	if !ok {
		t.Fatalf("expected first control to be response.start, got %T", h.controls[0])
	}
	if len(h.audio) != 2 {
		t.Fatalf("expected 2 audio frames, got %d", len(h.audio))
	}
	last := h.controls[len(h.controls)-1]
	end, ok := last.(*asp.ResponseEnd)
	if !ok || end.ResponseID != start.ResponseID {
		t.Fatalf("expected response.end matching response.start id, got %T", last)
	}
}

func TestPipelineEmptyUtteranceSendsErrorWithoutInvokingLLM(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	llm := &fakeLLM{text: "should never run"}
	p := New(&fakeSTT{text: ""}, llm, &fakeTTS{}, nil, DefaultConfig(), nil)

	turn := &Turn{
		Server:          h.srv,
		Transport:       h.transport,
		Conversation:    NewConversation(h.srv.Session().ID, 20),
		Audio:           []byte{0, 0, 0, 0},
		AudioSampleRate: 16000,
		UtteranceID:     "u1",
	}
	p.RunTurn(context.Background(), turn)
	h.waitFor(t, 1, time.Second)

	h.mu.Lock()
	defer h.mu.Unlock()
	errMsg, ok := h.controls[0].(*asp.ErrorMessage)
	if !ok || errMsg.Kind != asp.ErrKindEmptyUtterance {
		t.Fatalf("expected EmptyUtterance error, got %+v", h.controls[0])
	}
	if len(h.audio) != 0 {
		t.Fatal("expected no audio frames for an empty utterance")
	}
}

func TestPipelineBargeInCancelsInFlightResponse(t *testing.T) {
	h := newTestHarness(t)
	defer h.close()

	block := make(chan struct{})
	p := New(&fakeSTT{text: "tell me a long story"}, &fakeLLM{text: "once upon a time"},
		&fakeTTS{frames: [][]byte{{9}}, block: block}, nil, DefaultConfig(), nil)

	turn := &Turn{
		Server:          h.srv,
		Transport:       h.transport,
		Conversation:    NewConversation(h.srv.Session().ID, 20),
		Audio:           []byte{0, 0, 0, 0},
		AudioSampleRate: 16000,
		TTSSampleRate:   16000,
		UtteranceID:     "u1",
	}

	done := make(chan struct{})
	go func() {
		p.RunTurn(context.Background(), turn)
		close(done)
	}()

	h.waitFor(t, 1, time.Second) // response.start observed
	p.CancelResponse(h.srv.Session().ID)
	close(block)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunTurn did not return after cancellation")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	var sawCancelled bool
	for _, c := range h.controls {
		if _, ok := c.(*asp.ResponseCancelled); ok {
			sawCancelled = true
		}
	}
	if !sawCancelled {
		t.Fatal("expected response.cancelled after barge-in")
	}
}
