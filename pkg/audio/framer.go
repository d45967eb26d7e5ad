package audio

import "bytes"

// Framer accumulates a byte stream and emits fixed-duration frames. It is
// the stateful half of C1: partial trailing data is buffered until a full
// frame is available or the stream is explicitly ended. Two streams never
// share a Framer.
type Framer struct {
	frameBytes int
	buf        bytes.Buffer
}

// NewFramer returns a Framer that emits frames of frameMs duration of
// s16le PCM at sampleRate (mono).
func NewFramer(sampleRate, frameMs int) *Framer {
	bytesPerMs := sampleRate * 2 / 1000
	return &Framer{frameBytes: bytesPerMs * frameMs}
}

// Push appends data and returns zero or more complete frames. Any
// incomplete remainder stays buffered for the next call.
func (f *Framer) Push(data []byte) [][]byte {
	f.buf.Write(data)
	var frames [][]byte
	for f.buf.Len() >= f.frameBytes {
		frame := make([]byte, f.frameBytes)
		f.buf.Read(frame) //nolint:errcheck // bytes.Buffer.Read never errors for a full read
		frames = append(frames, frame)
	}
	return frames
}

// Flush ends the stream, returning any buffered partial frame as-is
// (possibly shorter than frameBytes) and resetting the buffer. Returns nil
// if nothing was buffered.
func (f *Framer) Flush() []byte {
	if f.buf.Len() == 0 {
		return nil
	}
	rest := make([]byte, f.buf.Len())
	f.buf.Read(rest) //nolint:errcheck
	return rest
}

// Reframe is the stateless convenience form of C1's reframe(stream,
// target_ms) operation: it frames an entire in-memory buffer at once,
// returning full frames plus any trailing partial frame.
func Reframe(pcm []byte, sampleRate, frameMs int) (frames [][]byte, trailing []byte) {
	f := NewFramer(sampleRate, frameMs)
	frames = f.Push(pcm)
	trailing = f.Flush()
	return frames, trailing
}
