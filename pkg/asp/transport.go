package asp

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"

	"github.com/asp-voice/bridge/pkg/logging"
)

// Default send-queue watermarks (§6, tx_high_watermark/tx_low_watermark):
// above High the pipeline pauses pulling TTS frames; at or below Low it
// resumes.
const (
	DefaultHighWatermark = 25
	DefaultLowWatermark  = 10
)

// InboundMessage is one decoded item off the wire: exactly one of Control
// or Audio is set, preserving the order frames arrived in.
type InboundMessage struct {
	Control any
	Audio   *AudioFrame
}

// outboundMessage pairs an already-encoded payload with the websocket
// message type it must be written as, so writeLoop never has to infer
// text-vs-binary from the payload's leading byte.
type outboundMessage struct {
	typ websocket.MessageType
	b   []byte
}

// Transport wraps a single coder/websocket connection and serializes both
// control (JSON text) and audio (binary) messages onto it in the caller's
// write order, which is what gives ASP its single-stream FIFO guarantee
// (§4.3: "one bidirectional ordered stream").
type Transport struct {
	conn *websocket.Conn
	log  logging.Logger

	sendCh chan outboundMessage
	doneCh chan struct{}

	mu           sync.Mutex
	queued       int
	backpressure bool
	highWM       int
	lowWM        int

	closeOnce sync.Once
	closeErr  error
}

// NewTransport wraps an already-established websocket connection (server
// accept or client dial).
func NewTransport(conn *websocket.Conn, log logging.Logger) *Transport {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	t := &Transport{
		conn:   conn,
		log:    log,
		sendCh: make(chan outboundMessage, DefaultHighWatermark*2),
		doneCh: make(chan struct{}),
		highWM: DefaultHighWatermark,
		lowWM:  DefaultLowWatermark,
	}
	go t.writeLoop()
	return t
}

func (t *Transport) writeLoop() {
	ctx := context.Background()
	for {
		select {
		case msg, ok := <-t.sendCh:
			if !ok {
				return
			}
			err := t.conn.Write(ctx, msg.typ, msg.b)
			t.mu.Lock()
			t.queued--
			if t.backpressure && t.queued <= t.lowWM {
				t.backpressure = false
			}
			t.mu.Unlock()
			if err != nil {
				t.log.Warn("asp: write failed", "error", err)
				t.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		case <-t.doneCh:
			return
		}
	}
}

// SendControl encodes and enqueues a control message.
func (t *Transport) SendControl(v any) error {
	b, err := EncodeControl(v)
	if err != nil {
		return err
	}
	return t.enqueue(websocket.MessageText, b)
}

// SendAudio encodes and enqueues a binary audio frame.
func (t *Transport) SendAudio(f AudioFrame) error {
	return t.enqueue(websocket.MessageBinary, f.Encode())
}

func (t *Transport) enqueue(typ websocket.MessageType, b []byte) error {
	t.mu.Lock()
	if t.queued >= t.highWM {
		t.backpressure = true
		t.mu.Unlock()
		return ErrBackpressure
	}
	t.queued++
	t.mu.Unlock()

	select {
	case t.sendCh <- outboundMessage{typ: typ, b: b}:
		return nil
	case <-t.doneCh:
		return ErrTransportClosed
	}
}

// Backpressured reports whether the send queue is currently above the
// high watermark (sticky until it drains back to the low watermark).
func (t *Transport) Backpressured() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.backpressure
}

// Recv blocks for the next inbound message, decoding control frames
// through the JSON codec and leaving binary frames as AudioFrame.
func (t *Transport) Recv(ctx context.Context) (InboundMessage, error) {
	typ, b, err := t.conn.Read(ctx)
	if err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}
	switch typ {
	case websocket.MessageText:
		v, err := DecodeControl(b)
		if err != nil {
			return InboundMessage{}, err
		}
		return InboundMessage{Control: v}, nil
	case websocket.MessageBinary:
		f, err := DecodeAudioFrame(b)
		if err != nil {
			return InboundMessage{}, err
		}
		return InboundMessage{Audio: &f}, nil
	default:
		return InboundMessage{}, fmt.Errorf("%w: unsupported websocket message type", ErrProtocolViolation)
	}
}

// Close shuts down the write loop and the underlying connection. Safe to
// call multiple times.
func (t *Transport) Close(code websocket.StatusCode, reason string) error {
	t.closeOnce.Do(func() {
		close(t.doneCh)
		t.closeErr = t.conn.Close(code, reason)
	})
	return t.closeErr
}
