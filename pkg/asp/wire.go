package asp

import (
	"encoding/binary"
	"fmt"
)

// FrameHeaderSize is the fixed binary header prepended to every audio
// frame on the wire (§6): stream_id(4) + seq(4) + timestamp_ms(4) + flags(1).
const FrameHeaderSize = 13

// FrameFlag bits carried in the audio frame header.
type FrameFlag uint8

const (
	// FlagFinal marks the last frame of a stream (paired with audio.end).
	// §6 fixes this as bit0 of the flags byte.
	FlagFinal FrameFlag = 1 << 0
	// FlagComfortNoise marks a frame synthesized by the jitter buffer
	// during an underrun rather than received from the far end.
	FlagComfortNoise FrameFlag = 1 << 1
)

// AudioFrame is one binary frame: a fixed header plus an opaque encoded
// payload (PCM, mu-law/A-law, or Opus per the negotiated encoding).
type AudioFrame struct {
	StreamID    uint32
	Seq         uint32
	TimestampMs uint32
	Flags       FrameFlag
	Payload     []byte
}

// Encode serializes the frame as header || payload.
func (f AudioFrame) Encode() []byte {
	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], f.StreamID)
	binary.BigEndian.PutUint32(buf[4:8], f.Seq)
	binary.BigEndian.PutUint32(buf[8:12], f.TimestampMs)
	buf[12] = byte(f.Flags)
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf
}

// DecodeAudioFrame parses a binary frame received over the transport.
func DecodeAudioFrame(b []byte) (AudioFrame, error) {
	if len(b) < FrameHeaderSize {
		return AudioFrame{}, fmt.Errorf("%w: audio frame shorter than header (%d bytes)", ErrProtocolViolation, len(b))
	}
	f := AudioFrame{
		StreamID:    binary.BigEndian.Uint32(b[0:4]),
		Seq:         binary.BigEndian.Uint32(b[4:8]),
		TimestampMs: binary.BigEndian.Uint32(b[8:12]),
		Flags:       FrameFlag(b[12]),
	}
	if len(b) > FrameHeaderSize {
		f.Payload = append([]byte(nil), b[FrameHeaderSize:]...)
	}
	return f, nil
}

func (f AudioFrame) HasFlag(flag FrameFlag) bool { return f.Flags&flag != 0 }
