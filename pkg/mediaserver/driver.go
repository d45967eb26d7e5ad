package mediaserver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/asp-voice/bridge/pkg/asp"
	"github.com/asp-voice/bridge/pkg/audio"
	"github.com/asp-voice/bridge/pkg/logging"
	"github.com/asp-voice/bridge/pkg/session"
	"github.com/asp-voice/bridge/pkg/vad"
)

// Driver is the Media Server's per-call orchestration loop (§4.5): it owns
// the telephony MediaChannel, runs C1/C2 on the capture path, sends and
// receives ASP traffic through the session's Client state machine, and
// paces playout through a Pacer, including the priority barge-in flush.
type Driver struct {
	channel   MediaChannel
	transport *asp.Transport
	client    *session.Client
	detector  *vad.Detector
	wireCodec *audio.Codec
	pacer     *Pacer
	echo      *EchoSuppressor
	log       logging.Logger

	inStreamID  uint32
	outStreamID uint32

	mu              sync.Mutex
	inStream        *session.Stream
	outStream       *session.Stream
	currentUtterance string
	firstFrameSent   bool
	responseID       string
	// bargedIn gates playout between a local barge-in decision and the
	// next response.start: response frames for the cancelled response
	// may still arrive on the wire (they share StreamID 0 with whatever
	// comes next, so the gate can't key on stream id) and must never
	// reach the pacer, per testable invariant #2.
	bargedIn bool
}

// NewDriver wires a MediaChannel to an already-negotiated session.Client.
// wireCodec encodes/decodes between agent-rate PCM and the ASP-negotiated
// encoding (distinct from whatever codec the telephony leg itself speaks,
// which MediaChannel already normalizes away).
func NewDriver(channel MediaChannel, transport *asp.Transport, client *session.Client, detector *vad.Detector, wireCodec *audio.Codec, log logging.Logger) *Driver {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	frameBytes := channel.SampleRate() * 2 * channel.FrameMs() / 1000
	return &Driver{
		channel:   channel,
		transport: transport,
		client:    client,
		detector:  detector,
		wireCodec: wireCodec,
		pacer:     NewPacer(channel.FrameMs(), frameBytes, 2, 5),
		echo:      NewEchoSuppressor(),
		log:       log,
	}
}

// Run drives capture, receive, and playout as three fan-out child tasks
// under one errgroup (§5's per-session supervisor): the first to return a
// non-nil error cancels the group's derived context, which stops the
// other two, and that error is what Run returns.
func (d *Driver) Run(ctx context.Context) error {
	d.mu.Lock()
	d.inStream = d.client.Session().OpenStream(d.inStreamID, "inbound")
	d.outStream = d.client.Session().OpenStream(d.outStreamID, "outbound")
	d.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.captureLoop(gctx) })
	g.Go(func() error { return d.receiveLoop(gctx) })
	g.Go(func() error { return d.playoutLoop(gctx) })
	return g.Wait()
}

func (d *Driver) captureLoop(ctx context.Context) error {
	frames, err := d.channel.Frames(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			d.handleCaptureFrame(frame)
		}
	}
}

func (d *Driver) handleCaptureFrame(frame []byte) {
	cleaned := frame
	if d.echo.IsEcho(frame) {
		cleaned = make([]byte, len(frame))
	}

	now := time.Now()
	event, err := d.detector.Process(cleaned, now)
	if err != nil {
		d.log.Warn("mediaserver: vad error", "error", err)
	}

	if event != nil {
		switch event.Type {
		case vad.BargeIn:
			d.onBargeIn()
		case vad.SpeechBegin:
			d.mu.Lock()
			d.currentUtterance = d.client.Session().BeginUtterance(uuid.NewString(), now).ID
			d.mu.Unlock()
		case vad.SpeechEnd:
			d.onSpeechEnd()
		}
	}

	d.sendCaptureFrame(cleaned)
}

func (d *Driver) sendCaptureFrame(pcm []byte) {
	wire, err := d.wireCodec.Encode(pcm)
	if err != nil {
		d.log.Warn("mediaserver: encode outbound frame failed", "error", err)
		return
	}
	d.mu.Lock()
	seq := d.inStream.NextFrameSeq()
	streamID := d.inStream.ID
	d.mu.Unlock()

	f := asp.AudioFrame{StreamID: streamID, Seq: seq, TimestampMs: uint32(time.Now().UnixMilli()), Payload: wire}
	if err := d.transport.SendAudio(f); err != nil {
		d.log.Warn("mediaserver: send audio frame failed", "error", err)
		return
	}
	d.client.Session().RecordFrameIn(1)
}

func (d *Driver) onSpeechEnd() {
	d.mu.Lock()
	streamID := d.inStream.ID
	d.mu.Unlock()
	if err := d.client.SendAudioEnd(streamID); err != nil {
		d.log.Warn("mediaserver: send audio.end failed", "error", err)
	}
}

// onBargeIn implements §4.5's ordered flush: clear the jitter buffer
// first, send barge_in before any further dequeue, then resume listening.
func (d *Driver) onBargeIn() {
	d.pacer.Flush()
	d.channel.Flush()
	d.echo.ClearBuffer()

	d.mu.Lock()
	responseID := d.responseID
	d.bargedIn = true
	d.mu.Unlock()

	if err := d.client.SendBargeIn(responseID); err != nil {
		d.log.Warn("mediaserver: send barge_in failed", "error", err)
	}
	d.detector.SetMode(vad.ModeListening)
}

func (d *Driver) receiveLoop(ctx context.Context) error {
	for {
		msg, err := d.transport.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.client.TransportLost()
			return err
		}
		if msg.Audio != nil {
			d.handleInboundAudio(*msg.Audio)
			continue
		}
		d.handleControl(msg.Control)
	}
}

func (d *Driver) handleInboundAudio(f asp.AudioFrame) {
	d.mu.Lock()
	gated := d.bargedIn
	d.mu.Unlock()
	if gated {
		d.pacer.Discard()
		d.client.Session().RecordFrameOut(1)
		return
	}

	pcm, err := d.wireCodec.Decode(f.Payload)
	if err != nil {
		d.log.Warn("mediaserver: decode inbound frame failed", "error", err)
		return
	}
	d.pacer.Push(pcm)
	d.client.Session().RecordFrameOut(1)
}

func (d *Driver) handleControl(msg any) {
	switch m := msg.(type) {
	case *asp.ResponseStart:
		d.mu.Lock()
		d.responseID = m.ResponseID
		d.firstFrameSent = false
		d.bargedIn = false
		d.mu.Unlock()
		d.client.HandleResponseStart(m)
	case *asp.ResponseEnd:
		d.client.HandleResponseEnd(m)
	case *asp.ResponseCancelled:
		d.client.HandleResponseCancelled(m)
	case *asp.SessionRejected:
		d.client.HandleSessionRejected(m)
	case *asp.SessionEnded:
		d.client.HandleSessionEnded(m)
	case *asp.Ping:
		d.transport.SendControl(&asp.Pong{Envelope: asp.Envelope{Type: asp.TypePong, SessionID: d.client.Session().ID}})
	}
}

func (d *Driver) playoutLoop(ctx context.Context) error {
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	d.pacer.Run(stop, func(frame []byte, fromBuffer bool) {
		if err := d.channel.Play(frame); err != nil {
			d.log.Warn("mediaserver: playout failed", "error", err)
			return
		}
		d.echo.RecordPlayedAudio(frame)

		if fromBuffer {
			d.mu.Lock()
			sent := d.firstFrameSent
			d.firstFrameSent = true
			d.mu.Unlock()
			if !sent {
				d.client.NotifyFirstFrame()
			}
		}
	})
	return ctx.Err()
}
