package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResponseState is one of §3's Response lifecycle states.
type ResponseState string

const (
	ResponseGenerating ResponseState = "Generating"
	ResponseStreaming  ResponseState = "Streaming"
	ResponseDone       ResponseState = "Done"
	ResponseCancelled  ResponseState = "Cancelled"
)

// Stream is a logical, ordered, single-direction sequence of audio frames
// within a Session (§3's "Audio Stream").
type Stream struct {
	ID        uint32
	Direction string // "inbound" or "outbound"
	NextSeq   uint32
	StartedAt time.Time
	ClosedAt  time.Time
}

// NextFrameSeq returns the next sequence number for this stream and
// advances the internal counter. Streams are single-owner (§3's
// "Ownership"), so it takes no lock and is not safe for concurrent use;
// Session does not serialize calls to it.
func (s *Stream) NextFrameSeq() uint32 {
	seq := s.NextSeq
	s.NextSeq++
	return seq
}

// Utterance is a contiguous caller speech segment bracketed by VAD events.
type Utterance struct {
	ID         string
	StartedAt  time.Time
	EndedAt    time.Time
	FrameCount int
	BargeIn    bool // true if it began while a Response was Streaming
}

// Response is a server-initiated reply to an Utterance (§3).
type Response struct {
	ID               string
	UtteranceID      string
	State            ResponseState
	AudioBytes       int
	FirstAudioAt     time.Time
	CreatedAt        time.Time
	firstAudioLatent time.Duration
}

// MarkFirstAudio records the first-audio latency relative to CreatedAt,
// the moment used by §4.4 invariant (3) to mark the Speaking transition.
func (r *Response) MarkFirstAudio(at time.Time) {
	if !r.FirstAudioAt.IsZero() {
		return
	}
	r.FirstAudioAt = at
	r.firstAudioLatent = at.Sub(r.CreatedAt)
}

// FirstAudioLatency returns the measured latency, or 0 if no audio has
// been produced yet.
func (r *Response) FirstAudioLatency() time.Duration { return r.firstAudioLatent }

// Counters tracks the §3 per-session counters surfaced in session.ended.
type Counters struct {
	FramesIn   uint64
	FramesOut  uint64
	Utterances uint64
	BargeIns   uint64
}

// Session is the §3 data model plus the state machine driving it. Exactly
// one Session exists per transport connection on the server, and per call
// leg on the client (§3's invariant) — callers are responsible for that
// cardinality; Session itself doesn't enforce it.
type Session struct {
	ID        string
	Audio     AudioNegotiation
	VAD       VADNegotiation
	StartedAt time.Time

	machine *Machine

	mu       sync.Mutex
	counters Counters
	inbound  map[uint32]*Stream
	outbound map[uint32]*Stream

	currentResponse *Response
	lastUtterance   *Utterance
}

// AudioNegotiation is the negotiated audio triple from session.started.
type AudioNegotiation struct {
	SampleRate int
	Encoding   string
	FrameMs    int
}

// VADNegotiation is the negotiated VAD knobs from session.started.
type VADNegotiation struct {
	SilenceHangoverMs int
	MinSpeechMs       int
	BargeInMinMs      int
}

// New creates a Session in StateIdle with a freshly generated ID.
func New(onEnter func(from, to State, trig Trigger)) *Session {
	return &Session{
		ID:       uuid.NewString(),
		machine:  NewMachine(onEnter),
		inbound:  make(map[uint32]*Stream),
		outbound: make(map[uint32]*Stream),
	}
}

func (s *Session) State() State              { return s.machine.State() }
func (s *Session) Fire(t Trigger) (State, error) { return s.machine.Fire(t) }
func (s *Session) Can(t Trigger) bool        { return s.machine.Can(t) }

// OpenStream registers a new stream and returns it. direction is
// "inbound" or "outbound".
func (s *Session) OpenStream(id uint32, direction string) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &Stream{ID: id, Direction: direction, StartedAt: time.Now()}
	if direction == "inbound" {
		s.inbound[id] = st
	} else {
		s.outbound[id] = st
	}
	return st
}

// CloseStream marks a stream closed; it remains addressable (for
// late-arriving frames to be rejected as ProtocolViolation) until the
// Session itself is discarded.
func (s *Session) CloseStream(id uint32, direction string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.inbound
	if direction != "inbound" {
		m = s.outbound
	}
	if st, ok := m[id]; ok {
		st.ClosedAt = time.Now()
	}
}

func (s *Session) Stream(id uint32, direction string) (*Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.inbound
	if direction != "inbound" {
		m = s.outbound
	}
	st, ok := m[id]
	return st, ok
}

// BeginUtterance records a new caller utterance, tagging it as barge-in if
// a Response is currently Streaming (§3).
func (s *Session) BeginUtterance(id string, at time.Time) *Utterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &Utterance{
		ID:        id,
		StartedAt: at,
		BargeIn:   s.currentResponse != nil && s.currentResponse.State == ResponseStreaming,
	}
	s.lastUtterance = u
	s.counters.Utterances++
	if u.BargeIn {
		s.counters.BargeIns++
	}
	return u
}

// NewResponse starts a Response bound to utteranceID. At most one Response
// may be Streaming at a time (§3 invariant); callers must have already
// cancelled any prior Streaming response before calling this.
func (s *Session) NewResponse(utteranceID string) *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Response{
		ID:          uuid.NewString(),
		UtteranceID: utteranceID,
		State:       ResponseGenerating,
		CreatedAt:   time.Now(),
	}
	s.currentResponse = r
	return r
}

func (s *Session) CurrentResponse() *Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentResponse
}

func (s *Session) RecordFrameIn(n int)  { s.addCounter(func(c *Counters) { c.FramesIn += uint64(n) }) }
func (s *Session) RecordFrameOut(n int) { s.addCounter(func(c *Counters) { c.FramesOut += uint64(n) }) }

func (s *Session) addCounter(f func(*Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(&s.counters)
}

func (s *Session) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}
