// Package vad implements C2: a Voice Activity Detector that classifies 20ms
// frames and emits speech.begin / speech.end / barge_in events with
// hangover timers, polymorphic over a Classifier capability (energy-gate or
// neural).
package vad

import "time"

// Classification is the per-frame verdict a Classifier produces.
type Classification int

const (
	Speech Classification = iota
	NonSpeech
	Noise
)

// Classifier is the capability C2 is polymorphic over. Implementations:
// EnergyClassifier (energy-gate + zero-crossing, no external deps) and
// NeuralClassifier (ONNX-backed, see neural.go).
type Classifier interface {
	Classify(frame []byte) (Classification, error)
	// Reset clears any adaptive state (threshold percentile window, etc.)
	Reset()
	Name() string
}

// EventType mirrors §4.2's event vocabulary.
type EventType string

const (
	SpeechBegin EventType = "speech.begin"
	SpeechEnd   EventType = "speech.end"
	BargeIn     EventType = "barge_in"
)

// Event is emitted by the Detector.
type Event struct {
	Type      EventType
	Timestamp time.Time
}

// Mode is the current Session mode the Detector needs to know about to
// decide whether a speech.begin should instead be upgraded to barge_in.
type Mode int

const (
	ModeListening Mode = iota
	ModeSpeaking
)

// Params configures hangover timers and minimum durations, all defaulted
// per §4.2/§6.
type Params struct {
	MinSpeechMs      int // default 120
	SilenceHangoverMs int // default 600
	BargeInMinMs     int // default 80
	// BargeInMinWords is carried with the other VAD knobs, but Detector
	// does not read it: barge_in fires on BargeInMinMs of speech alone.
	// The word-count gate is pipeline.Config.MinWordsToInterrupt.
	BargeInMinWords int
}

// DefaultParams returns spec §4.2's stated defaults.
func DefaultParams() Params {
	return Params{
		MinSpeechMs:       120,
		SilenceHangoverMs: 600,
		BargeInMinMs:      80,
		BargeInMinWords:   1,
	}
}

// Detector tracks consecutive speech/non-speech frames and turns Classifier
// verdicts into the speech.begin/speech.end/barge_in event sequence. It is
// not safe for concurrent use; one Detector per Session (client side).
type Detector struct {
	classifier Classifier
	params     Params
	frameMs    int

	mode Mode

	speaking           bool
	consecutiveSpeech  time.Duration
	consecutiveSilence time.Duration
	speechSinceBegin   time.Duration // duration of confirmed speech since the run started, for barge-in gating
	bargeInFired       bool
}

// NewDetector builds a Detector for frames of frameMs duration.
func NewDetector(classifier Classifier, params Params, frameMs int) *Detector {
	return &Detector{classifier: classifier, params: params, frameMs: frameMs}
}

// SetMode tells the detector whether the session is currently Listening or
// Speaking (agent actively playing audio) — required to decide whether a
// nascent speech.begin should instead be treated as a barge-in.
func (d *Detector) SetMode(m Mode) {
	if m != d.mode {
		d.mode = m
		d.speechSinceBegin = 0
		d.bargeInFired = false
	}
}

// Process classifies one frame and returns at most one Event (the detector
// never raises more than one per frame, matching §4.2's strict-superset
// barge-in ordering: a barge_in can fire instead of, never alongside, a
// would-be speech.begin).
func (d *Detector) Process(frame []byte, now time.Time) (*Event, error) {
	cls, err := d.classifier.Classify(frame)
	if err != nil {
		return nil, err
	}

	frameDur := time.Duration(d.frameMs) * time.Millisecond
	isSpeech := cls == Speech

	if isSpeech {
		d.consecutiveSilence = 0
		d.consecutiveSpeech += frameDur

		if d.mode == ModeSpeaking && !d.bargeInFired {
			d.speechSinceBegin += frameDur
			if d.speechSinceBegin >= time.Duration(d.params.BargeInMinMs)*time.Millisecond {
				d.bargeInFired = true
				d.speaking = true
				return &Event{Type: BargeIn, Timestamp: now}, nil
			}
			// Still confirming a barge-in; do not also allow a plain
			// speech.begin to race ahead of it while in Speaking mode.
			return nil, nil
		}

		if !d.speaking && d.consecutiveSpeech >= time.Duration(d.params.MinSpeechMs)*time.Millisecond {
			d.speaking = true
			return &Event{Type: SpeechBegin, Timestamp: now}, nil
		}
		return nil, nil
	}

	// Noise counts as non-speech for both speech.end and speech.begin purposes.
	d.consecutiveSpeech = 0
	d.speechSinceBegin = 0
	d.consecutiveSilence += frameDur

	if d.speaking && d.consecutiveSilence >= time.Duration(d.params.SilenceHangoverMs)*time.Millisecond {
		d.speaking = false
		d.consecutiveSilence = 0
		return &Event{Type: SpeechEnd, Timestamp: now}, nil
	}

	return nil, nil
}

// IsSpeaking reports the detector's current speech/non-speech state.
func (d *Detector) IsSpeaking() bool { return d.speaking }

// Reset clears all counters and the underlying classifier's adaptive state.
func (d *Detector) Reset() {
	d.speaking = false
	d.consecutiveSpeech = 0
	d.consecutiveSilence = 0
	d.speechSinceBegin = 0
	d.bargeInFired = false
	d.classifier.Reset()
}
