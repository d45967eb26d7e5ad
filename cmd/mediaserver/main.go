// Command mediaserver runs the Media Server side of ASP: it owns a
// telephony-leg audio channel (local mic/speaker for the demo, or RTP for
// a real leg), negotiates a session with a Conversation Server, and drives
// capture/playout through the jitter buffer and barge-in flush.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/joho/godotenv"

	"github.com/asp-voice/bridge/pkg/asp"
	"github.com/asp-voice/bridge/pkg/audio"
	"github.com/asp-voice/bridge/pkg/logging"
	"github.com/asp-voice/bridge/pkg/mediaserver"
	"github.com/asp-voice/bridge/pkg/session"
	"github.com/asp-voice/bridge/pkg/vad"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	var (
		serverURL   = flag.String("server", envOr("CONVSERVER_URL", "ws://127.0.0.1:8443/asp"), "Conversation Server WebSocket URL")
		mode        = flag.String("mode", envOr("MEDIA_MODE", "local"), "media channel: local or rtp")
		sampleRate  = flag.Int("sample-rate", 16000, "channel PCM sample rate")
		frameMs     = flag.Int("frame-ms", 20, "capture/playout frame duration in ms")
		encoding    = flag.String("encoding", "pcm_s16le", "negotiated ASP wire encoding")
		localAddr   = flag.String("local-addr", envOr("RTP_LOCAL_ADDR", "0.0.0.0:0"), "RTP: local UDP address")
		remoteAddr  = flag.String("remote-addr", envOr("RTP_REMOTE_ADDR", ""), "RTP: remote UDP address")
		telephonyHz = flag.Int("telephony-rate", 8000, "RTP: telephony-side sample rate")
		ssrc        = flag.Uint("ssrc", 0x1234, "RTP: outgoing SSRC")
		classifier  = flag.String("vad-classifier", envOr("VAD_CLASSIFIER", "energy"), "vad classifier: energy or neural")
		systemRef   = flag.String("system-prompt-ref", "", "optional system prompt reference passed to session.start")
	)
	flag.Parse()

	logger := logging.NewStdLogger("[mediaserver] ")

	channel, err := buildChannel(*mode, *sampleRate, *frameMs, *localAddr, *remoteAddr, *telephonyHz, uint32(*ssrc))
	if err != nil {
		log.Fatalf("mediaserver: %v", err)
	}
	defer channel.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.Dial(ctx, *serverURL, nil)
	if err != nil {
		log.Fatalf("mediaserver: dial %s: %v", *serverURL, err)
	}
	transport := asp.NewTransport(conn, logger)
	defer transport.Close(websocket.StatusNormalClosure, "media server shutting down")

	first, err := transport.Recv(ctx)
	if err != nil || first.Control == nil {
		log.Fatalf("mediaserver: expected protocol.capabilities, got err=%v", err)
	}
	if _, ok := first.Control.(*asp.Capabilities); !ok {
		log.Fatalf("mediaserver: expected protocol.capabilities, got %T", first.Control)
	}

	done := make(chan struct{})
	hooks := session.ClientHooks{
		OnRejected: func(reason string) {
			logger.Error("mediaserver: session rejected", "reason", reason)
			close(done)
		},
	}
	timers := session.DefaultTimers()
	client := session.NewClient(transport, timers, hooks, logger)

	if err := client.Start(asp.AudioParams{SampleRate: *sampleRate, Encoding: *encoding, FrameMs: *frameMs}, asp.VADParams{}, *systemRef); err != nil {
		log.Fatalf("mediaserver: session.start: %v", err)
	}

	started := make(chan *asp.SessionStarted, 1)
	go dispatchControl(ctx, transport, client, started, done, logger)

	var sessionStarted *asp.SessionStarted
	select {
	case sessionStarted = <-started:
	case <-done:
		log.Fatal("mediaserver: session rejected before starting")
	case <-ctx.Done():
		return
	}

	wireCodec, err := audio.NewCodec(audio.Encoding(sessionStarted.Audio.Encoding), sessionStarted.Audio.SampleRate)
	if err != nil {
		log.Fatalf("mediaserver: build wire codec: %v", err)
	}

	vadParams := vad.DefaultParams()
	if sessionStarted.VAD.SilenceHangoverMs > 0 {
		vadParams.SilenceHangoverMs = sessionStarted.VAD.SilenceHangoverMs
	}
	if sessionStarted.VAD.MinSpeechMs > 0 {
		vadParams.MinSpeechMs = sessionStarted.VAD.MinSpeechMs
	}
	if sessionStarted.VAD.BargeInMinMs > 0 {
		vadParams.BargeInMinMs = sessionStarted.VAD.BargeInMinMs
	}

	detector, err := buildDetector(*classifier, vadParams, *frameMs)
	if err != nil {
		log.Fatalf("mediaserver: %v", err)
	}

	driver := mediaserver.NewDriver(channel, transport, client, detector, wireCodec, logger)

	logger.Info("mediaserver: session started, driving call", "sample_rate", sessionStarted.Audio.SampleRate, "encoding", sessionStarted.Audio.Encoding)

	errCh := make(chan error, 1)
	go func() { errCh <- driver.Run(ctx) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		client.End(shutdownCtx)
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("mediaserver: driver stopped", "error", err)
		}
	case <-done:
	}
}

// dispatchControl reads the single message expected between session.start
// and session.started/session.rejected, then returns. Driver.Run owns the
// transport's receive loop for the rest of the call, so this goroutine
// must stop reading before it starts — coder/websocket permits only one
// reader at a time.
func dispatchControl(ctx context.Context, transport *asp.Transport, client *session.Client, started chan<- *asp.SessionStarted, done chan struct{}, logger logging.Logger) {
	msg, err := transport.Recv(ctx)
	if err != nil {
		client.TransportLost()
		close(done)
		return
	}
	switch m := msg.Control.(type) {
	case *asp.SessionStarted:
		if err := client.HandleSessionStarted(m); err != nil {
			logger.Error("mediaserver: handle session.started", "error", err)
		}
		started <- m
	case *asp.SessionRejected:
		client.HandleSessionRejected(m)
		close(done)
	default:
		logger.Warn("mediaserver: unexpected message before session.started", "type", fmt.Sprintf("%T", m))
	}
}

func buildChannel(mode string, sampleRate, frameMs int, localAddr, remoteAddr string, telephonyHz int, ssrc uint32) (mediaserver.MediaChannel, error) {
	switch mode {
	case "local":
		return mediaserver.NewLocalChannel(sampleRate, frameMs)
	case "rtp":
		if remoteAddr == "" {
			return nil, errors.New("rtp mode requires -remote-addr or RTP_REMOTE_ADDR")
		}
		return mediaserver.NewRTPChannel(localAddr, remoteAddr, telephonyHz, frameMs, ssrc)
	default:
		return nil, fmt.Errorf("unknown -mode %q (want local or rtp)", mode)
	}
}

func buildDetector(classifier string, params vad.Params, frameMs int) (*vad.Detector, error) {
	switch classifier {
	case "neural":
		modelPath := os.Getenv("VAD_MODEL_PATH")
		if modelPath == "" {
			return nil, errors.New("VAD_MODEL_PATH must be set for vad-classifier=neural")
		}
		modelData, err := os.ReadFile(modelPath)
		if err != nil {
			return nil, fmt.Errorf("read VAD_MODEL_PATH: %w", err)
		}
		c, err := vad.NewNeuralClassifier(modelData, 0.5)
		if err != nil {
			return nil, fmt.Errorf("build neural classifier: %w", err)
		}
		return vad.NewDetector(c, params, frameMs), nil
	case "energy", "":
		c := vad.NewEnergyClassifier(0.02, 10)
		return vad.NewDetector(c, params, frameMs), nil
	default:
		return nil, fmt.Errorf("unknown -vad-classifier %q", classifier)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
