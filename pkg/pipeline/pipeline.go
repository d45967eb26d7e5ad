// Package pipeline implements C6: the Conversation Server's
// transcribe -> generate -> synthesize orchestration over one utterance,
// including TTS chunking, cancellation on barge-in, context management,
// and tool-call gating (§4.6).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/asp-voice/bridge/pkg/asp"
	"github.com/asp-voice/bridge/pkg/logging"
	"github.com/asp-voice/bridge/pkg/session"
)

// Config is the §6 pipeline.* configuration surface plus the
// barge-in-sensitivity knob, MinWordsToInterrupt.
type Config struct {
	STTDeadline    time.Duration
	CancelDeadline time.Duration
	MaxChunkChars  int
	HistoryMaxTurns int

	// MinWordsToInterrupt suppresses generating a new response for a
	// barge-in utterance shorter than this many words — a backchannel
	// ("uh-huh", "right") rather than a real interruption. The client
	// has already flushed playout by the time this runs, so it only
	// decides whether to *respond*, not whether to interrupt.
	MinWordsToInterrupt int

	FallbackUtterance   string
	HandoffUtterance    string
	FallbackDestination string
	// MaxConsecutiveFailures opens the provider circuit breaker (§7).
	MaxConsecutiveFailures int

	SystemPrompt string
}

// DefaultConfig mirrors §6's stated defaults.
func DefaultConfig() Config {
	return Config{
		STTDeadline:            1500 * time.Millisecond,
		CancelDeadline:         50 * time.Millisecond,
		MaxChunkChars:          DefaultMaxChunkChars,
		HistoryMaxTurns:        DefaultHistoryMaxTurns,
		MinWordsToInterrupt:    0,
		FallbackUtterance:      "One moment, there is a technical issue.",
		HandoffUtterance:       "I'm sorry, I need to transfer you for help.",
		MaxConsecutiveFailures: 3,
	}
}

// Turn bundles everything one utterance->response cycle needs. Server
// and Transport are the already-negotiated session-side handles; the
// caller (the Conversation Server's session loop) owns their lifetime.
type Turn struct {
	Server       *session.Server
	Transport    *asp.Transport
	Conversation *Conversation
	Tools        []ToolSpec
	ChannelID    string

	Audio           []byte
	AudioSampleRate int
	Language        string

	Voice         string
	TTSSampleRate int

	UtteranceID string
	BargeIn     bool

	// PlaybackSafe is signalled by the caller's receive loop when a
	// playback_safe control message arrives for this response — §4.6's
	// gate for boundary-only tool-call execution. May be nil if the
	// response never produced a tool call; runToolCall only reads it
	// when one did.
	PlaybackSafe chan struct{}
}

// Pipeline runs turns against a fixed set of providers. It holds no
// per-session state itself (that lives in Conversation, owned by the
// caller) beyond the in-flight cancellation registry needed to wire
// barge-in through to a running STT/LLM/TTS call.
type Pipeline struct {
	stt         SpeechToText
	llm         LanguageModel
	tts         TextToSpeech
	callControl CallControl
	cfg         Config
	log         logging.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // keyed by session ID
	fails   map[string]int                // consecutive provider failures, by provider name
}

// New builds a Pipeline. callControl may be nil if no tool calls are
// expected to be wired (tool calls then no-op with a logged warning).
func New(stt SpeechToText, llm LanguageModel, tts TextToSpeech, callControl CallControl, cfg Config, log logging.Logger) *Pipeline {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Pipeline{
		stt:         stt,
		llm:         llm,
		tts:         tts,
		callControl: callControl,
		cfg:         cfg,
		log:         log,
		cancels:     make(map[string]context.CancelFunc),
		fails:       make(map[string]int),
	}
}

// CancelResponse aborts the in-flight response for sessionID, if any.
// Wired as session.ServerHooks.OnBargeIn; order matches §4.6's
// cancellation propagation: TTS abort first (fastest possible stop),
// then the shared context cancellation that unwinds the LLM/STT calls.
func (p *Pipeline) CancelResponse(sessionID string) {
	p.tts.Abort()
	p.mu.Lock()
	cancel := p.cancels[sessionID]
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Pipeline) registerCancel(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancels[sessionID] = cancel
	p.mu.Unlock()
}

func (p *Pipeline) clearCancel(sessionID string) {
	p.mu.Lock()
	delete(p.cancels, sessionID)
	p.mu.Unlock()
}

// RunTurn executes one utterance -> response cycle. It is meant to run
// on its own goroutine per utterance; the caller's OnUtteranceReady hook
// decides whether to invoke it at all (e.g. the client may already have
// rejected a zero-frame utterance).
func (p *Pipeline) RunTurn(parent context.Context, t *Turn) {
	sessionID := t.Server.Session().ID
	ctx, cancel := context.WithCancel(parent)
	p.registerCancel(sessionID, cancel)
	defer func() {
		cancel()
		p.clearCancel(sessionID)
	}()

	if len(t.Audio) == 0 {
		p.sendErrorAndResume(t, asp.ErrKindEmptyUtterance, "empty utterance")
		return
	}

	sttCtx, sttCancel := context.WithTimeout(ctx, p.cfg.STTDeadline)
	transcript, err := p.stt.Transcribe(sttCtx, t.Audio, t.AudioSampleRate, t.Language)
	sttCancel()
	if err != nil {
		p.recordFailure(p.stt.Name())
		p.log.Warn("pipeline: transcription failed", "session_id", sessionID, "error", err)
		p.runFallback(ctx, t, asp.ErrKindProviderUnavail, "stt unavailable", p.stt.Name())
		return
	}
	p.recordSuccess(p.stt.Name())

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		p.sendErrorAndResume(t, asp.ErrKindEmptyUtterance, "empty utterance")
		return
	}

	if t.BargeIn && p.cfg.MinWordsToInterrupt > 1 && countWords(transcript) < p.cfg.MinWordsToInterrupt {
		p.log.Debug("pipeline: discarding short barge-in utterance", "session_id", sessionID, "words", countWords(transcript))
		p.sendErrorAndResume(t, asp.ErrKindEmptyUtterance, "backchannel discarded")
		return
	}

	t.Conversation.AddUserTurn(transcript)
	if err := t.Conversation.MaybeSummarize(ctx, p.llm); err != nil {
		p.log.Warn("pipeline: context summarisation failed", "session_id", sessionID, "error", err)
	}

	p.generateAndSpeak(ctx, t, sessionID)
}

// countWords is a simple whitespace word count used for the backchannel
// gating decision above.
func countWords(s string) int {
	return len(strings.Fields(s))
}

func (p *Pipeline) generateAndSpeak(ctx context.Context, t *Turn, sessionID string) {
	response := t.Server.Session().NewResponse(t.UtteranceID)

	if err := t.Transport.SendControl(&asp.ResponseStart{
		Envelope:    asp.Envelope{Type: asp.TypeResponseStart, SessionID: sessionID},
		ResponseID:  response.ID,
		UtteranceID: t.UtteranceID,
	}); err != nil {
		p.log.Warn("pipeline: send response.start failed", "session_id", sessionID, "error", err)
		return
	}

	messages := t.Conversation.Messages(p.cfg.SystemPrompt)
	chunker := NewChunker(p.cfg.MaxChunkChars)

	var (
		assistantText strings.Builder
		framesSent    int
		toolCall      *ToolCall
		genErr        error
	)

	response.State = session.ResponseStreaming

	onGenEvent := func(ev GenEvent) error {
		switch ev.Kind {
		case GenText:
			assistantText.WriteString(ev.Text)
			for _, chunk := range chunker.Push(ev.Text) {
				if err := p.speakChunk(ctx, t, response, chunk, &framesSent); err != nil {
					return err
				}
			}
		case GenToolCall:
			call := ev.Call
			toolCall = &call
		case GenEnd:
		}
		return nil
	}

	genErr = p.llm.Generate(ctx, messages, t.Tools, onGenEvent)

	if genErr == nil {
		if tail := chunker.Flush(); tail != "" {
			genErr = p.speakChunk(ctx, t, response, tail, &framesSent)
		}
	}

	if ctx.Err() != nil {
		p.finishCancelled(t, response, sessionID, framesSent > 0)
		t.Conversation.AddAssistantTurn(assistantText.String(), true)
		return
	}

	if errors.Is(genErr, asp.ErrBackpressure) {
		p.log.Warn("pipeline: backpressure timeout exceeded, cancelling response", "session_id", sessionID)
		p.finishCancelled(t, response, sessionID, framesSent > 0)
		t.Conversation.AddAssistantTurn(assistantText.String(), true)
		return
	}

	if genErr != nil {
		p.recordFailure(p.llm.Name())
		p.log.Warn("pipeline: generation failed", "session_id", sessionID, "error", genErr)
		if framesSent == 0 {
			p.runFallback(ctx, t, asp.ErrKindProviderUnavail, "llm unavailable", p.llm.Name())
			return
		}
	} else {
		p.recordSuccess(p.llm.Name())
	}

	t.Conversation.AddAssistantTurn(assistantText.String(), false)

	if framesSent == 0 {
		// The response produced text that failed to synthesize into any
		// audio, or the LLM emitted nothing at all: no Speaking
		// transition ever happened, so resolve straight from Processing.
		t.Server.NotifyResponseDone()
		return
	}

	if err := t.Transport.SendControl(&asp.ResponseEnd{
		Envelope:   asp.Envelope{Type: asp.TypeResponseEnd, SessionID: sessionID},
		ResponseID: response.ID,
	}); err != nil {
		p.log.Warn("pipeline: send response.end failed", "session_id", sessionID, "error", err)
	}
	response.State = session.ResponseDone
	t.Server.NotifyResponseDone()

	if toolCall != nil {
		p.runToolCall(ctx, t, *toolCall)
	}
}

// speakChunk synthesizes one TTS chunk, forwarding each frame to the
// outbound stream as soon as it's produced — no waiting on the next
// chunk or the end of the LLM stream (§4.6).
func (p *Pipeline) speakChunk(ctx context.Context, t *Turn, response *session.Response, text string, framesSent *int) error {
	outStream, _ := t.Server.Session().Stream(0, "outbound")
	return p.tts.StreamSynthesize(ctx, text, t.Voice, t.TTSSampleRate, func(pcm []byte) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.waitForBackpressure(ctx, t); err != nil {
			return err
		}

		var seq uint32
		if outStream != nil {
			seq = outStream.NextFrameSeq()
		} else {
			seq = uint32(*framesSent)
		}

		frame := asp.AudioFrame{
			StreamID:    0,
			Seq:         seq,
			TimestampMs: uint32(time.Now().UnixMilli()),
			Payload:     pcm,
		}
		if err := t.Transport.SendAudio(frame); err != nil {
			return err
		}
		if *framesSent == 0 {
			response.MarkFirstAudio(time.Now())
			t.Server.NotifyFirstFrame()
		}
		*framesSent++
		t.Server.Session().RecordFrameOut(1)
		return nil
	})
}

// backpressureTimeout is §5's backpressure_timeout: if the transport
// writer queue hasn't drained within this long, the response is
// cancelled with a Backpressure error rather than stalling forever.
const backpressureTimeout = 2 * time.Second

// waitForBackpressure pauses pulling further TTS frames while the
// transport's writer queue is above its high watermark (§5), polling
// until it drains below the low watermark or ctx is done. If the pause
// runs past backpressureTimeout, it returns asp.ErrBackpressure so the
// caller cancels the response.
func (p *Pipeline) waitForBackpressure(ctx context.Context, t *Turn) error {
	if !t.Transport.Backpressured() {
		return nil
	}
	deadline := time.Now().Add(backpressureTimeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for t.Transport.Backpressured() {
		if time.Now().After(deadline) {
			return asp.ErrBackpressure
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// finishCancelled emits response.cancelled and resolves the session
// state. After a barge_in, session.Server.HandleBargeIn has already moved
// the session to Active/Processing for the new utterance; the Notify call
// below is then rejected by the FSM and the session stays there. A
// cancellation without barge_in (e.g. backpressure) returns it to
// Listening.
func (p *Pipeline) finishCancelled(t *Turn, response *session.Response, sessionID string, hadAudio bool) {
	response.State = session.ResponseCancelled
	if err := t.Transport.SendControl(&asp.ResponseCancelled{
		Envelope:   asp.Envelope{Type: asp.TypeResponseCancelled, SessionID: sessionID},
		ResponseID: response.ID,
	}); err != nil {
		p.log.Warn("pipeline: send response.cancelled failed", "session_id", sessionID, "error", err)
	}
	// TriggerResponseCancel is only legal once Speaking (first frame
	// out); a response cancelled before any audio shipped never left
	// Processing, so it resolves via NotifyResponseDone instead.
	if hadAudio {
		t.Server.NotifyResponseCancelled()
	} else {
		t.Server.NotifyResponseDone()
	}
}

// runFallback plays one of the pre-rendered fallback utterances on
// provider failure (§7) rather than leaving the caller in silence.
func (p *Pipeline) runFallback(ctx context.Context, t *Turn, kind asp.ErrorKind, reason, providerName string) {
	sessionID := t.Server.Session().ID
	t.Transport.SendControl(&asp.ErrorMessage{
		Envelope: asp.Envelope{Type: asp.TypeError, SessionID: sessionID},
		Kind:     kind,
		Message:  reason,
	})

	if p.circuitOpen(providerName) {
		p.runHandoff(ctx, t)
		return
	}

	response := t.Server.Session().NewResponse(t.UtteranceID)
	if err := t.Transport.SendControl(&asp.ResponseStart{
		Envelope:    asp.Envelope{Type: asp.TypeResponseStart, SessionID: sessionID},
		ResponseID:  response.ID,
		UtteranceID: t.UtteranceID,
	}); err != nil {
		return
	}
	var framesSent int
	if err := p.speakChunk(ctx, t, response, p.cfg.FallbackUtterance, &framesSent); err != nil {
		p.log.Warn("pipeline: fallback synthesis failed", "session_id", sessionID, "error", err)
	}
	if framesSent == 0 {
		t.Server.NotifyResponseDone()
		return
	}
	t.Transport.SendControl(&asp.ResponseEnd{
		Envelope:   asp.Envelope{Type: asp.TypeResponseEnd, SessionID: sessionID},
		ResponseID: response.ID,
	})
	t.Server.NotifyResponseDone()
}

// runHandoff plays the handoff utterance and invokes CallControl, for
// when the provider circuit breaker has opened (§7: unrecoverable
// failure -> handoff + transfer, or hangup with no fallback configured).
func (p *Pipeline) runHandoff(ctx context.Context, t *Turn) {
	sessionID := t.Server.Session().ID
	response := t.Server.Session().NewResponse(t.UtteranceID)
	t.Transport.SendControl(&asp.ResponseStart{
		Envelope:    asp.Envelope{Type: asp.TypeResponseStart, SessionID: sessionID},
		ResponseID:  response.ID,
		UtteranceID: t.UtteranceID,
	})
	var framesSent int
	p.speakChunk(ctx, t, response, p.cfg.HandoffUtterance, &framesSent)
	if framesSent > 0 {
		t.Transport.SendControl(&asp.ResponseEnd{
			Envelope:   asp.Envelope{Type: asp.TypeResponseEnd, SessionID: sessionID},
			ResponseID: response.ID,
		})
		t.Server.NotifyResponseDone()
	} else {
		t.Server.NotifyResponseDone()
	}

	if p.callControl == nil {
		return
	}
	if p.cfg.FallbackDestination != "" {
		if err := p.callControl.Transfer(ctx, t.ChannelID, p.cfg.FallbackDestination); err != nil {
			p.log.Error("pipeline: handoff transfer failed", "session_id", sessionID, "error", err)
		}
		return
	}
	if err := p.callControl.Hangup(ctx, t.ChannelID); err != nil {
		p.log.Error("pipeline: handoff hangup failed", "session_id", sessionID, "error", err)
	}
}

func (p *Pipeline) circuitOpen(providerName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.fails[providerName]
	return p.cfg.MaxConsecutiveFailures > 0 && n >= p.cfg.MaxConsecutiveFailures
}

func (p *Pipeline) recordFailure(providerName string) {
	p.mu.Lock()
	p.fails[providerName]++
	p.mu.Unlock()
}

func (p *Pipeline) recordSuccess(providerName string) {
	p.mu.Lock()
	p.fails[providerName] = 0
	p.mu.Unlock()
}

// playbackSafeTimeout bounds how long runToolCall waits for the client's
// playback_safe confirmation before invoking the tool anyway — a client
// that never confirms (crash, disconnect) must not wedge the call
// indefinitely on a pending transfer/hangup.
const playbackSafeTimeout = 5 * time.Second

// runToolCall invokes the tool sink once the client confirms playback_safe
// (§4.6: boundary-only, after the jitter buffer has drained the last
// frame). It is called synchronously from generateAndSpeak after
// response.end, blocking on t.PlaybackSafe up to playbackSafeTimeout.
func (p *Pipeline) runToolCall(ctx context.Context, t *Turn, call ToolCall) {
	if p.callControl == nil {
		p.log.Warn("pipeline: tool call with no CallControl wired", "tool", call.Name)
		return
	}

	if t.PlaybackSafe != nil {
		select {
		case <-t.PlaybackSafe:
		case <-time.After(playbackSafeTimeout):
			p.log.Warn("pipeline: playback_safe not received before timeout, invoking tool anyway", "session_id", t.Server.Session().ID, "tool", call.Name)
		case <-ctx.Done():
			return
		}
	}

	if err := invokeTool(ctx, p.callControl, t.ChannelID, call); err != nil {
		t.Transport.SendControl(&asp.ErrorMessage{
			Envelope: asp.Envelope{Type: asp.TypeError, SessionID: t.Server.Session().ID},
			Kind:     asp.ErrKindInternalError,
			Message:  fmt.Sprintf("tool call %s failed: %v", call.Name, err),
		})
	}
}

func (p *Pipeline) sendErrorAndResume(t *Turn, kind asp.ErrorKind, reason string) {
	t.Transport.SendControl(&asp.ErrorMessage{
		Envelope: asp.Envelope{Type: asp.TypeError, SessionID: t.Server.Session().ID},
		Kind:     kind,
		Message:  reason,
	})
	t.Server.NotifyResponseDone()
}
