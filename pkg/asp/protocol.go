// Package asp implements C3: the Audio Session Protocol's control-message
// vocabulary, binary audio framing, and the transport that interleaves both
// in strict FIFO order over one bidirectional connection (§4.3).
package asp

// MessageType enumerates §4.3's control vocabulary.
type MessageType string

const (
	TypeCapabilities      MessageType = "protocol.capabilities"
	TypeSessionStart      MessageType = "session.start"
	TypeSessionStarted    MessageType = "session.started"
	TypeSessionRejected   MessageType = "session.rejected"
	TypeSessionConfigure  MessageType = "session.configure" // SPEC_FULL §D.4
	TypeAudioEnd          MessageType = "audio.end"
	TypeBargeIn           MessageType = "barge_in"
	TypeResponseStart     MessageType = "response.start"
	TypeResponseEnd       MessageType = "response.end"
	TypeResponseCancelled MessageType = "response.cancelled"
	TypePing              MessageType = "ping"
	TypePong              MessageType = "pong"
	TypeSessionEnd        MessageType = "session.end"
	TypeSessionEnded      MessageType = "session.ended"
	TypeError             MessageType = "error"
	// TypePlaybackSafe signals (client -> server) that the last response
	// frame has drained the jitter buffer — §4.6's gate for boundary-only
	// tool-call execution.
	TypePlaybackSafe MessageType = "playback_safe"
)

// Envelope carries the three fields every control message has (§4.3); the
// rest of the payload is type-specific and decoded separately via DecodeControl.
type Envelope struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Seq       uint64      `json:"seq"`
	TsMs      uint64      `json:"ts_ms"`
}

// AudioParams describes a negotiated codec/sample-rate/frame-duration
// triple, shared by session.start and session.started.
type AudioParams struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	FrameMs    int    `json:"frame_ms"`
}

// VADParams carries the caller-tunable VAD knobs from §6.
type VADParams struct {
	SilenceHangoverMs int `json:"silence_hangover_ms,omitempty"`
	MinSpeechMs       int `json:"min_speech_ms,omitempty"`
	BargeInMinMs      int `json:"barge_in_min_ms,omitempty"`
}

// Capabilities is the server's opening advertisement (S -> C).
type Capabilities struct {
	Envelope
	SampleRates []int    `json:"sample_rates"`
	Encodings   []string `json:"encodings"`
	Features    []string `json:"features"`
}

// SessionStart is the client's session request (C -> S).
type SessionStart struct {
	Envelope
	Audio           AudioParams `json:"audio"`
	VAD             VADParams   `json:"vad"`
	SystemPromptRef string      `json:"system_prompt_ref,omitempty"`
}

// SessionStarted accepts a session with negotiated parameters (S -> C).
type SessionStarted struct {
	Envelope
	Audio AudioParams `json:"audio"`
	VAD   VADParams   `json:"vad"`
}

// SessionRejected refuses a session (S -> C).
type SessionRejected struct {
	Envelope
	Reason string `json:"reason"`
}

// SessionConfigure changes voice/language mid-session without reconnecting
// (SPEC_FULL §D.4, C -> S).
type SessionConfigure struct {
	Envelope
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
}

// AudioEnd closes an inbound stream (C -> S).
type AudioEnd struct {
	Envelope
	StreamID uint32 `json:"stream_id"`
}

// BargeIn cancels the in-flight response (C -> S).
type BargeIn struct {
	Envelope
	ResponseID string `json:"response_id,omitempty"`
}

// ResponseStart announces a response; MUST precede its first audio frame
// on the wire (S -> C).
type ResponseStart struct {
	Envelope
	ResponseID  string `json:"response_id"`
	UtteranceID string `json:"utterance_id"`
}

// ResponseEnd marks a response complete (S -> C).
type ResponseEnd struct {
	Envelope
	ResponseID string `json:"response_id"`
}

// ResponseCancelled marks a response aborted (S -> C).
type ResponseCancelled struct {
	Envelope
	ResponseID string `json:"response_id"`
}

// Ping / Pong carry only the envelope.
type Ping struct{ Envelope }
type Pong struct{ Envelope }

// SessionEnd requests graceful teardown (C -> S).
type SessionEnd struct{ Envelope }

// SessionEnded reports final counters (S -> C).
type SessionEnded struct {
	Envelope
	FramesIn   uint64 `json:"frames_in"`
	FramesOut  uint64 `json:"frames_out"`
	Utterances uint64 `json:"utterances"`
	BargeIns   uint64 `json:"barge_ins"`
}

// ErrorKind enumerates §7's error taxonomy as it appears on the wire.
type ErrorKind string

const (
	ErrKindProtocolViolation ErrorKind = "ProtocolViolation"
	ErrKindCodecMismatch     ErrorKind = "CodecMismatch"
	ErrKindBackpressure      ErrorKind = "Backpressure"
	ErrKindProviderUnavail   ErrorKind = "ProviderUnavailable"
	ErrKindTimeout           ErrorKind = "Timeout"
	ErrKindTransportLoss     ErrorKind = "TransportLoss"
	ErrKindInternalError     ErrorKind = "InternalError"
	ErrKindEmptyUtterance    ErrorKind = "EmptyUtterance"
)

// ErrorMessage is a fatal or recoverable error (S -> C).
type ErrorMessage struct {
	Envelope
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// PlaybackSafe signals the jitter buffer has fully drained the last
// response frame (C -> S, SPEC_FULL §D / §4.6 tool-call gating).
type PlaybackSafe struct {
	Envelope
	ResponseID string `json:"response_id"`
}
