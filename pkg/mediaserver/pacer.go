package mediaserver

import (
	"sync"
	"time"
)

// Pacer is the jitter buffer + playout pacer (§4.5): it smooths arrival
// jitter of inbound response frames and releases exactly one frame per
// frame interval to the MediaChannel, synthesizing comfort noise on
// underrun and dropping the oldest frame (with a counted Backpressure
// event) on overflow.
type Pacer struct {
	frameMs      int
	frameBytes   int
	targetFrames int // steady-state depth (2 frames / 40ms default)
	maxFrames    int // overflow ceiling (5 frames / 100ms default)

	mu        sync.Mutex
	buf       [][]byte
	underrun  uint64
	overflow  uint64
	discarded uint64
}

// NewPacer builds a pacer for frameMs-duration frames of frameBytes each.
// target/max follow §4.5's defaults (2 frames / 5 frames) when 0 is
// passed.
func NewPacer(frameMs, frameBytes, target, max int) *Pacer {
	if target <= 0 {
		target = 2
	}
	if max <= 0 {
		max = 5
	}
	return &Pacer{frameMs: frameMs, frameBytes: frameBytes, targetFrames: target, maxFrames: max}
}

// Push enqueues an arriving frame; if the buffer is already at its
// overflow ceiling, the oldest buffered frame is dropped and Overflow is
// counted (§4.5's "drop-oldest+Backpressure" rule).
func (p *Pacer) Push(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) >= p.maxFrames {
		p.buf = p.buf[1:]
		p.overflow++
	}
	p.buf = append(p.buf, frame)
}

// Pull returns the next frame to play, or comfort noise (silence) plus
// false if the buffer has underrun.
func (p *Pacer) Pull() (frame []byte, fromBuffer bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) == 0 {
		p.underrun++
		return make([]byte, p.frameBytes), false
	}
	frame = p.buf[0]
	p.buf = p.buf[1:]
	return frame, true
}

// Depth returns the number of frames currently buffered.
func (p *Pacer) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

// Flush discards all buffered frames immediately (barge-in cancellation).
func (p *Pacer) Flush() {
	p.mu.Lock()
	p.buf = nil
	p.mu.Unlock()
}

// Discard counts a frame the caller chose not to Push at all — the
// barge-in gate in Driver.handleInboundAudio uses this for frames
// belonging to a response already cancelled locally, so they show up in
// Stats without ever entering the buffer.
func (p *Pacer) Discard() {
	p.mu.Lock()
	p.discarded++
	p.mu.Unlock()
}

// Stats reports the running underrun/overflow/discarded counts.
func (p *Pacer) Stats() (underrun, overflow, discarded uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.underrun, p.overflow, p.discarded
}

// Run drains the pacer through onFrame at a steady frameMs cadence until stop is
// closed. Each call to onFrame happens exactly once per interval whether
// or not buffered audio was available, keeping playout wall-clock
// accurate regardless of jitter upstream.
func (p *Pacer) Run(stop <-chan struct{}, onFrame func(frame []byte, fromBuffer bool)) {
	ticker := time.NewTicker(time.Duration(p.frameMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, ok := p.Pull()
			onFrame(frame, ok)
		}
	}
}
