package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// StreamingTTS is a streaming-synthesis-over-websocket TextToSpeech
// provider: one text chunk in, a stream of raw PCM frames out, terminated
// by an "EOS" text control frame. The wire shape is vendor-neutral so the
// same client works against any provider speaking this protocol.
type StreamingTTS struct {
	apiKey string
	host   string
	scheme string

	mu   sync.Mutex
	conn *websocket.Conn

	preambles map[string][][]byte
}

func NewStreamingTTS(apiKey, host string) *StreamingTTS {
	return &StreamingTTS{
		apiKey:    apiKey,
		host:      host,
		scheme:    "wss",
		preambles: make(map[string][][]byte),
	}
}

// RegisterPreamble stores pre-rendered filler frames (e.g. "one moment")
// a caller can hand out via PreambleFrames without a network round trip.
func (t *StreamingTTS) RegisterPreamble(name string, frames [][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.preambles[name] = frames
}

// PreambleFrames implements pipeline.PreambleSource.
func (t *StreamingTTS) PreambleFrames(name string) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.preambles[name]
}

func (t *StreamingTTS) getConn(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tts: dial: %w", err)
	}

	t.conn = conn
	return conn, nil
}

// StreamSynthesize implements pipeline.TextToSpeech: it forwards each PCM
// frame to onFrame as soon as it arrives on the wire, never buffering the
// whole utterance, so the pipeline can ship the first frame as soon as
// it's produced (§4.6).
func (t *StreamingTTS) StreamSynthesize(ctx context.Context, text string, voice string, sampleRate int, onFrame func([]byte) error) error {
	conn, err := t.getConn(ctx)
	if err != nil {
		return err
	}

	req := map[string]any{
		"text":        text,
		"voice":       voice,
		"sample_rate": sampleRate,
		"speed":       1.05,
		"format":      "pcm16",
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.dropConn(conn)
		return fmt.Errorf("tts: send synthesis request: %w", err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			t.dropConn(conn)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("tts: read: %w", err)
		}

		switch messageType {
		case websocket.MessageBinary:
			if err := onFrame(payload); err != nil {
				return err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("tts: provider error: %s", msg)
			}
		}
	}
}

// Abort closes the active synthesis connection so any blocked Read in
// StreamSynthesize returns immediately. This is the fast path barge-in
// relies on (§4.6): closing the socket beats waiting on ctx cancellation
// to unwind a stalled network read.
func (t *StreamingTTS) Abort() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "aborted")
}

func (t *StreamingTTS) Name() string {
	return "streaming-tts"
}

func (t *StreamingTTS) Close() error {
	return t.Abort()
}

func (t *StreamingTTS) dropConn(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == conn {
		t.conn = nil
	}
	conn.Close(websocket.StatusAbnormalClosure, "tts stream error")
}
