package session

import (
	"context"
	"fmt"
	"time"

	"github.com/asp-voice/bridge/pkg/asp"
	"github.com/asp-voice/bridge/pkg/logging"
)

// ServerHooks lets the conversation pipeline (pkg/pipeline) react to
// session-level transitions without pkg/session importing the pipeline —
// the dependency points one way, keeping Session ignorant of its
// caller's transport.
type ServerHooks struct {
	// OnUtteranceReady is called when audio.end closes a non-empty inbound
	// stream; the returned bool reports whether a Response should start.
	OnUtteranceReady func(ctx context.Context, s *Session, streamID uint32) bool
	// OnBargeIn is called when barge_in arrives while a Response is
	// Streaming; must return once cancellation is requested, not once it
	// completes (the caller enforces CancelDeadline separately).
	OnBargeIn func(ctx context.Context, s *Session, responseID string)
	// OnSessionEnd is called once, when the Session transitions to Ending.
	OnSessionEnd func(ctx context.Context, s *Session)
}

// Server drives one Conversation Server-side session: transport in,
// FSM transitions, timers, and the session.* control message exchange.
// It does not itself run STT/LLM/TTS — that's pkg/pipeline, reached
// through ServerHooks.
type Server struct {
	transport *asp.Transport
	session   *Session
	timers    Timers
	hooks     ServerHooks
	log       logging.Logger

	startingDeadline   *Deadline
	idleDeadline       *Deadline
	processingDeadline *Deadline
	pingTicker         *time.Ticker
}

// NewServer begins in Idle and immediately advertises capabilities,
// matching §4.4's "Idle → Capabilities (on transport up)".
func NewServer(t *asp.Transport, caps asp.Capabilities, timers Timers, hooks ServerHooks, log logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	srv := &Server{transport: t, timers: timers, hooks: hooks, log: log}
	srv.session = New(srv.onTransition)

	if _, err := srv.session.Fire(TriggerTransportUp); err != nil {
		return nil, err
	}
	caps.Type = asp.TypeCapabilities
	caps.SessionID = srv.session.ID
	if err := t.SendControl(caps); err != nil {
		return nil, fmt.Errorf("session: send capabilities: %w", err)
	}
	return srv, nil
}

func (s *Server) onTransition(from, to State, trig Trigger) {
	s.log.Debug("session: transition", "session_id", s.session.ID, "from", from, "to", to, "trigger", trig)
}

func (s *Server) Session() *Session { return s.session }

// HandleSessionStart negotiates parameters and accepts or rejects the
// session; on success it starts the idle-timeout watchdog.
func (s *Server) HandleSessionStart(msg *asp.SessionStart, negotiate func(*asp.SessionStart) (asp.AudioParams, asp.VADParams, error)) error {
	if _, err := s.session.Fire(TriggerSessionStart); err != nil {
		return s.reject("protocol_violation")
	}

	s.startingDeadline = NewDeadline(s.timers.StartingTimeout, func() {
		s.session.Fire(TriggerStartingTimeout)
		s.transport.SendControl(&asp.SessionRejected{
			Envelope: asp.Envelope{Type: asp.TypeSessionRejected, SessionID: s.session.ID},
			Reason:   "starting_timeout",
		})
	})

	audio, vad, err := negotiate(msg)
	s.startingDeadline.Cancel()
	if err != nil {
		return s.reject(err.Error())
	}

	s.session.Audio = AudioNegotiation{SampleRate: audio.SampleRate, Encoding: audio.Encoding, FrameMs: audio.FrameMs}
	s.session.VAD = VADNegotiation{SilenceHangoverMs: vad.SilenceHangoverMs, MinSpeechMs: vad.MinSpeechMs, BargeInMinMs: vad.BargeInMinMs}
	s.session.StartedAt = time.Now()

	if _, err := s.session.Fire(TriggerSessionAccepted); err != nil {
		return err
	}
	s.armIdleTimeout()

	return s.transport.SendControl(&asp.SessionStarted{
		Envelope: asp.Envelope{Type: asp.TypeSessionStarted, SessionID: s.session.ID},
		Audio:    audio,
		VAD:      vad,
	})
}

func (s *Server) reject(reason string) error {
	s.session.Fire(TriggerSessionRejected)
	return s.transport.SendControl(&asp.SessionRejected{
		Envelope: asp.Envelope{Type: asp.TypeSessionRejected, SessionID: s.session.ID},
		Reason:   reason,
	})
}

func (s *Server) armIdleTimeout() {
	s.idleDeadline = NewDeadline(s.timers.IdleTimeout, func() {
		s.log.Warn("session: idle timeout", "session_id", s.session.ID)
		s.session.Fire(TriggerSessionEnd)
	})
}

// TouchActivity resets the idle-timeout watchdog; call on every inbound or
// outbound frame (§4.4's idle_timeout is "no audio in either direction").
func (s *Server) TouchActivity() {
	if s.idleDeadline != nil {
		s.idleDeadline.Reset(s.timers.IdleTimeout)
	}
}

// HandleAudioEnd closes the named inbound stream and, if it held a
// non-empty utterance, transitions to Active/Processing. It also
// accepts audio.end while already Processing: a barge_in fires
// TriggerBargeIn straight to Processing because the new utterance is
// "already bounded" client-side (§4.4) — the audio.end that follows
// just closes that same already-acknowledged utterance rather than
// requesting a fresh transition.
func (s *Server) HandleAudioEnd(ctx context.Context, streamID uint32) error {
	state := s.session.State()
	if state != StateActiveListening && state != StateActiveProcessing {
		return fmt.Errorf("%w: audio.end received outside Active/Listening or Active/Processing", asp.ErrProtocolViolation)
	}
	s.session.CloseStream(streamID, "inbound")

	ready := s.hooks.OnUtteranceReady != nil && s.hooks.OnUtteranceReady(ctx, s.session, streamID)
	if !ready {
		return nil
	}
	if state == StateActiveListening {
		if _, err := s.session.Fire(TriggerUtteranceReady); err != nil {
			return err
		}
	}
	s.armProcessingTimeout()
	return nil
}

// armProcessingTimeout guards against a pipeline that never emits a
// first audio frame (§4.4's processing_timeout): it sends error and
// returns to Listening without ever entering Speaking.
func (s *Server) armProcessingTimeout() {
	s.processingDeadline = NewDeadline(s.timers.ProcessingTimeout, func() {
		s.log.Warn("session: processing timeout", "session_id", s.session.ID)
		s.transport.SendControl(&asp.ErrorMessage{
			Envelope: asp.Envelope{Type: asp.TypeError, SessionID: s.session.ID},
			Kind:     asp.ErrKindTimeout,
			Message:  "processing_timeout",
		})
		s.session.Fire(TriggerResponseDone)
	})
}

func (s *Server) clearProcessingTimeout() {
	if s.processingDeadline != nil {
		s.processingDeadline.Cancel()
		s.processingDeadline = nil
	}
}

// HandleBargeIn cancels the in-flight response. Barge-in while not
// Speaking is a documented no-op (§4.4: "ignored while not speaking").
func (s *Server) HandleBargeIn(ctx context.Context, responseID string) {
	if s.session.State() != StateActiveSpeaking {
		return
	}
	if s.hooks.OnBargeIn != nil {
		s.hooks.OnBargeIn(ctx, s.session, responseID)
	}
	s.session.Fire(TriggerBargeIn)
}

// NotifyFirstFrame marks the Active/Speaking transition (§4.4 invariant 3:
// triggered by the first outbound frame reaching the transport, not by
// response.start).
func (s *Server) NotifyFirstFrame() error {
	s.clearProcessingTimeout()
	_, err := s.session.Fire(TriggerFirstFrameOut)
	return err
}

// NotifyResponseDone transitions back to Listening after response.end
// (or, if no audio was ever emitted, directly from Active/Processing).
func (s *Server) NotifyResponseDone() error {
	s.clearProcessingTimeout()
	_, err := s.session.Fire(TriggerResponseDone)
	return err
}

// NotifyResponseCancelled transitions back to Listening after
// response.cancelled (the barge-in path instead goes through HandleBargeIn
// into Active/Processing).
func (s *Server) NotifyResponseCancelled() error {
	s.clearProcessingTimeout()
	_, err := s.session.Fire(TriggerResponseCancel)
	return err
}

// Shutdown ends the session, sending session.ended with final counters.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hooks.OnSessionEnd != nil {
		s.hooks.OnSessionEnd(ctx, s.session)
	}
	s.session.Fire(TriggerSessionEnd)
	c := s.session.Counters()
	err := s.transport.SendControl(&asp.SessionEnded{
		Envelope:   asp.Envelope{Type: asp.TypeSessionEnded, SessionID: s.session.ID},
		FramesIn:   c.FramesIn,
		FramesOut:  c.FramesOut,
		Utterances: c.Utterances,
		BargeIns:   c.BargeIns,
	})
	s.session.Fire(TriggerSessionEnded)
	if s.idleDeadline != nil {
		s.idleDeadline.Cancel()
	}
	s.clearProcessingTimeout()
	if s.pingTicker != nil {
		s.pingTicker.Stop()
	}
	return err
}

// TransportLost force-closes the session on connection failure.
func (s *Server) TransportLost() {
	s.session.Fire(TriggerTransportLoss)
	if s.idleDeadline != nil {
		s.idleDeadline.Cancel()
	}
	s.clearProcessingTimeout()
	if s.pingTicker != nil {
		s.pingTicker.Stop()
	}
}
