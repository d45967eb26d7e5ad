// Package mediaserver implements C5: the Media Server driver that bridges
// a telephony-leg audio channel to ASP — capture through C1/C2 to the
// transport, and transport audio through the jitter buffer back out to
// the channel, including the barge-in flush sequence (§4.5).
package mediaserver

import "context"

// MediaChannel is the capability a telephony leg must expose: raw 16-bit
// PCM frames in, raw 16-bit PCM frames out, at a fixed sample rate and
// frame duration agreed out of band (e.g. via SDP or a local device
// config). Implementations: a local microphone/speaker loop (malgo) for
// the demo CLI, and an RTP channel (pion/rtp) for a real telephony leg.
type MediaChannel interface {
	// SampleRate is the channel's native PCM sample rate (independent of
	// the negotiated ASP wire encoding; C1 handles resampling).
	SampleRate() int
	// FrameMs is the fixed capture/playout frame duration.
	FrameMs() int
	// Frames yields captured PCM frames until ctx is cancelled or the
	// channel closes.
	Frames(ctx context.Context) (<-chan []byte, error)
	// Play enqueues a PCM frame for playout. Must not block longer than
	// one frame interval; callers treat a slow channel as backpressure.
	Play(frame []byte) error
	// Flush discards any buffered-but-not-yet-played audio immediately —
	// used on barge-in to hit the cancel_deadline_ms bound (§4.4 inv. 4).
	Flush()
	Close() error
}
