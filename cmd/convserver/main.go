// Command convserver runs the Conversation Server side of ASP: it accepts
// Media Server connections over WebSocket, negotiates a session, and
// drives the transcribe -> generate -> synthesize pipeline per utterance.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/asp-voice/bridge/pkg/asp"
	"github.com/asp-voice/bridge/pkg/audio"
	"github.com/asp-voice/bridge/pkg/callcontrol"
	"github.com/asp-voice/bridge/pkg/config"
	"github.com/asp-voice/bridge/pkg/logging"
	"github.com/asp-voice/bridge/pkg/metrics"
	"github.com/asp-voice/bridge/pkg/pipeline"
	llmProvider "github.com/asp-voice/bridge/pkg/providers/llm"
	sttProvider "github.com/asp-voice/bridge/pkg/providers/stt"
	ttsProvider "github.com/asp-voice/bridge/pkg/providers/tts"
	"github.com/asp-voice/bridge/pkg/session"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("convserver: load config: %v", err)
	}

	logger := logging.NewStdLogger("[convserver] ")

	stt, err := buildSTT(cfg)
	if err != nil {
		log.Fatalf("convserver: %v", err)
	}
	llm, err := buildLLM(cfg)
	if err != nil {
		log.Fatalf("convserver: %v", err)
	}
	tts, err := buildTTS(cfg)
	if err != nil {
		log.Fatalf("convserver: %v", err)
	}

	var cc pipeline.CallControl
	if baseURL := os.Getenv("CALLCONTROL_BASE_URL"); baseURL != "" {
		cc = callcontrol.NewHTTPCallControl(baseURL, os.Getenv("CALLCONTROL_API_KEY"))
	}

	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.STTDeadline = cfg.STTDeadline()
	pipelineCfg.CancelDeadline = cfg.CancelDeadline()
	pipelineCfg.MaxChunkChars = cfg.Pipeline.MaxChunkChars
	pipelineCfg.HistoryMaxTurns = cfg.Pipeline.HistoryMaxTurns
	pipelineCfg.MinWordsToInterrupt = cfg.VAD.BargeInMinWords
	pipelineCfg.MaxConsecutiveFailures = cfg.Pipeline.MaxConsecutiveFailures
	if cfg.Pipeline.FallbackUtterance != "" {
		pipelineCfg.FallbackUtterance = cfg.Pipeline.FallbackUtterance
	}
	if cfg.Pipeline.HandoffUtterance != "" {
		pipelineCfg.HandoffUtterance = cfg.Pipeline.HandoffUtterance
	}
	pipelineCfg.FallbackDestination = cfg.Pipeline.FallbackDestination
	pipelineCfg.SystemPrompt = cfg.Pipeline.SystemPrompt

	pipe := pipeline.New(stt, llm, tts, cc, pipelineCfg, logger)
	met := metrics.Default()

	if handler, shutdownMetrics, err := metrics.InitPrometheus(); err != nil {
		logger.Warn("convserver: metrics exporter disabled", "error", err)
	} else {
		defer shutdownMetrics(context.Background())
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		go func() {
			if err := http.ListenAndServe(":9090", mux); err != nil {
				logger.Warn("convserver: metrics listener stopped", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/asp", func(w http.ResponseWriter, r *http.Request) {
		acceptSession(w, r, cfg, pipe, met, logger)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := fmt.Sprintf(":%d", cfg.ASP.ListenPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("convserver: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("convserver: listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func acceptSession(w http.ResponseWriter, r *http.Request, cfg config.Config, pipe *pipeline.Pipeline, met *metrics.Metrics, logger logging.Logger) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("convserver: accept failed", "error", err)
		return
	}
	transport := asp.NewTransport(conn, logger)
	defer transport.Close(websocket.StatusNormalClosure, "session ended")

	h := &sessionHandler{
		transport: transport,
		pipe:      pipe,
		cfg:       cfg,
		log:       logger,
		metrics:   met,
		channelID: uuid.NewString(),
		tools:     defaultTools(),
	}

	caps := asp.Capabilities{
		SampleRates: []int{8000, 16000},
		Encodings:   []string{"pcm_s16le", "mulaw", "alaw"},
		Features:    []string{"barge_in", "session.configure", "playback_safe"},
	}
	timers := session.DefaultTimers()

	hooks := session.ServerHooks{
		OnUtteranceReady: h.onUtteranceReady,
		OnBargeIn:        h.onBargeIn,
		OnSessionEnd:     h.onSessionEnd,
	}

	srv, err := session.NewServer(transport, caps, timers, hooks, logger)
	if err != nil {
		logger.Error("convserver: session setup failed", "error", err)
		return
	}
	h.srv = srv
	h.conv = pipeline.NewConversation(srv.Session().ID, cfg.Pipeline.HistoryMaxTurns)
	met.ActiveSessions.Add(r.Context(), 1)
	defer met.ActiveSessions.Add(context.Background(), -1)

	ctx := r.Context()
	for {
		msg, err := transport.Recv(ctx)
		if err != nil {
			srv.TransportLost()
			return
		}
		if msg.Audio != nil {
			h.handleInboundAudio(*msg.Audio)
			continue
		}
		h.handleControl(ctx, msg.Control)
	}
}

// sessionHandler owns one Conversation Server-side session: inbound-audio
// accumulation between a stream's open and its audio.end, control-message
// dispatch, and the playback_safe signal pipeline.runToolCall waits on.
type sessionHandler struct {
	transport *asp.Transport
	srv       *session.Server
	pipe      *pipeline.Pipeline
	conv      *pipeline.Conversation
	cfg       config.Config
	log       logging.Logger
	metrics   *metrics.Metrics
	channelID string
	tools     []pipeline.ToolSpec

	mu           sync.Mutex
	wireCodec    *audio.Codec
	inboundBuf   []byte
	utteranceID  string
	bargeIn      bool
	playbackSafe chan struct{}
	voice        string
	language     string
}

func (h *sessionHandler) negotiate(req *asp.SessionStart) (asp.AudioParams, asp.VADParams, error) {
	enc := req.Audio.Encoding
	if enc == "" {
		enc = h.cfg.Audio.Encoding
	}
	sr := req.Audio.SampleRate
	if sr == 0 {
		sr = h.cfg.Audio.SampleRate
	}
	frameMs := req.Audio.FrameMs
	if frameMs == 0 {
		frameMs = h.cfg.Audio.FrameMs
	}

	codec, err := audio.NewCodec(audio.Encoding(enc), sr)
	if err != nil {
		return asp.AudioParams{}, asp.VADParams{}, err
	}

	h.mu.Lock()
	h.wireCodec = codec
	h.mu.Unlock()

	h.srv.Session().OpenStream(0, "inbound")
	h.srv.Session().OpenStream(0, "outbound")

	vad := asp.VADParams{
		SilenceHangoverMs: h.cfg.VAD.SilenceHangoverMs,
		MinSpeechMs:       h.cfg.VAD.MinSpeechMs,
		BargeInMinMs:      h.cfg.VAD.BargeInMinMs,
	}
	return asp.AudioParams{SampleRate: sr, Encoding: enc, FrameMs: frameMs}, vad, nil
}

func (h *sessionHandler) handleInboundAudio(f asp.AudioFrame) {
	h.mu.Lock()
	codec := h.wireCodec
	h.mu.Unlock()
	if codec == nil {
		return
	}
	pcm, err := codec.Decode(f.Payload)
	if err != nil {
		h.log.Warn("convserver: decode inbound frame failed", "error", err)
		return
	}

	h.mu.Lock()
	if len(h.inboundBuf) == 0 {
		u := h.srv.Session().BeginUtterance(uuid.NewString(), time.Now())
		h.utteranceID = u.ID
		h.bargeIn = u.BargeIn
	}
	h.inboundBuf = append(h.inboundBuf, pcm...)
	h.mu.Unlock()

	h.srv.Session().RecordFrameIn(1)
	h.srv.TouchActivity()
	h.metrics.RecordFramesIn(context.Background(), h.srv.Session().ID, 1)
}

func (h *sessionHandler) handleControl(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case *asp.SessionStart:
		if err := h.srv.HandleSessionStart(m, h.negotiate); err != nil {
			h.log.Warn("convserver: session start rejected", "error", err)
		}
	case *asp.AudioEnd:
		if err := h.srv.HandleAudioEnd(ctx, m.StreamID); err != nil {
			h.log.Warn("convserver: audio.end failed", "error", err)
		}
	case *asp.BargeIn:
		h.srv.HandleBargeIn(ctx, m.ResponseID)
	case *asp.PlaybackSafe:
		h.mu.Lock()
		ch := h.playbackSafe
		h.mu.Unlock()
		if ch != nil {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	case *asp.SessionConfigure:
		h.mu.Lock()
		if m.Voice != "" {
			h.voice = m.Voice
		}
		if m.Language != "" {
			h.language = m.Language
		}
		h.mu.Unlock()
	case *asp.SessionEnd:
		h.srv.Shutdown(ctx)
	case *asp.Ping:
		h.transport.SendControl(&asp.Pong{Envelope: asp.Envelope{Type: asp.TypePong, SessionID: h.srv.Session().ID}})
	}
}

// onUtteranceReady drains the accumulated inbound PCM and, if non-empty,
// starts a pipeline turn. It runs synchronously inside Server.HandleAudioEnd
// so the Listening -> Processing transition and the turn launch can never
// race each other.
func (h *sessionHandler) onUtteranceReady(ctx context.Context, s *session.Session, streamID uint32) bool {
	h.mu.Lock()
	buf := h.inboundBuf
	h.inboundBuf = nil
	utteranceID := h.utteranceID
	bargeIn := h.bargeIn
	voice := h.voice
	language := h.language
	h.mu.Unlock()

	if len(buf) == 0 {
		return false
	}

	// buf is already decoded PCM: Codec.Decode always resamples to
	// audio.AgentSampleRate regardless of the negotiated wire rate. TTS
	// output, by contrast, is sent straight to the wire and must match
	// whatever rate the client negotiated.
	ttsSampleRate := s.Audio.SampleRate

	playbackSafe := make(chan struct{}, 1)
	h.mu.Lock()
	h.playbackSafe = playbackSafe
	h.mu.Unlock()

	t := &pipeline.Turn{
		Server:          h.srv,
		Transport:       h.transport,
		Conversation:    h.conv,
		Tools:           h.tools,
		ChannelID:       h.channelID,
		Audio:           buf,
		AudioSampleRate: audio.AgentSampleRate,
		Language:        language,
		Voice:           voice,
		TTSSampleRate:   ttsSampleRate,
		UtteranceID:     utteranceID,
		BargeIn:         bargeIn,
		PlaybackSafe:    playbackSafe,
	}
	go h.pipe.RunTurn(context.Background(), t)
	return true
}

func (h *sessionHandler) onBargeIn(ctx context.Context, s *session.Session, responseID string) {
	h.pipe.CancelResponse(s.ID)
	h.metrics.RecordBargeIn(ctx, s.ID)
}

func (h *sessionHandler) onSessionEnd(ctx context.Context, s *session.Session) {
	h.log.Info("convserver: session ending", "session_id", s.ID)
}

func defaultTools() []pipeline.ToolSpec {
	return []pipeline.ToolSpec{
		{
			Name:        "transfer_call",
			Description: "Transfer the caller to a human agent or another destination.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"destination": map[string]any{"type": "string"},
				},
				"required": []string{"destination"},
			},
		},
		{
			Name:        "hangup",
			Description: "End the call.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}

func buildSTT(cfg config.Config) (pipeline.SpeechToText, error) {
	model, _ := cfg.Providers.STT.Config["model"].(string)
	switch cfg.Providers.STT.Name {
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, errors.New("OPENAI_API_KEY must be set for openai STT")
		}
		if model == "" {
			model = "whisper-1"
		}
		return sttProvider.NewOpenAISTT(key, model), nil
	case "deepgram":
		key := os.Getenv("DEEPGRAM_API_KEY")
		if key == "" {
			return nil, errors.New("DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		return sttProvider.NewDeepgramSTT(key), nil
	case "assemblyai":
		key := os.Getenv("ASSEMBLYAI_API_KEY")
		if key == "" {
			return nil, errors.New("ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		return sttProvider.NewAssemblyAISTT(key), nil
	case "groq", "":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, errors.New("GROQ_API_KEY must be set for groq STT")
		}
		if model == "" {
			model = "whisper-large-v3-turbo"
		}
		return sttProvider.NewGroqSTT(key, model), nil
	default:
		return nil, fmt.Errorf("unknown providers.stt.name %q", cfg.Providers.STT.Name)
	}
}

func buildLLM(cfg config.Config) (pipeline.LanguageModel, error) {
	model, _ := cfg.Providers.LLM.Config["model"].(string)
	switch cfg.Providers.LLM.Name {
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, errors.New("ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		if model == "" {
			model = "claude-3-5-sonnet-20241022"
		}
		return llmProvider.NewAnthropicLLM(key, model), nil
	case "google":
		key := os.Getenv("GOOGLE_API_KEY")
		if key == "" {
			return nil, errors.New("GOOGLE_API_KEY must be set for google LLM")
		}
		if model == "" {
			model = "gemini-1.5-flash"
		}
		return llmProvider.NewGoogleLLM(key, model), nil
	case "groq":
		key := os.Getenv("GROQ_API_KEY")
		if key == "" {
			return nil, errors.New("GROQ_API_KEY must be set for groq LLM")
		}
		if model == "" {
			model = "llama-3.3-70b-versatile"
		}
		return llmProvider.NewGroqLLM(key, model), nil
	case "openai", "":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, errors.New("OPENAI_API_KEY must be set for openai LLM")
		}
		if model == "" {
			model = "gpt-4o"
		}
		return llmProvider.NewOpenAILLM(key, model), nil
	default:
		return nil, fmt.Errorf("unknown providers.llm.name %q", cfg.Providers.LLM.Name)
	}
}

func buildTTS(cfg config.Config) (pipeline.TextToSpeech, error) {
	switch cfg.Providers.TTS.Name {
	case "streaming", "":
		key := os.Getenv("STREAMING_TTS_API_KEY")
		host := os.Getenv("STREAMING_TTS_HOST")
		if key == "" {
			return nil, errors.New("STREAMING_TTS_API_KEY must be set for streaming TTS")
		}
		return ttsProvider.NewStreamingTTS(key, host), nil
	default:
		return nil, fmt.Errorf("unknown providers.tts.name %q", cfg.Providers.TTS.Name)
	}
}
