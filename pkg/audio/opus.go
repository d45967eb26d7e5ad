package audio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// OpusCodec is a standalone Opus encoder/decoder for the agent's 16 kHz
// mono stream in fixed 20 ms frames; Opus's own internal framing lines up
// with that exactly at 16 kHz. It is not reachable through session
// negotiation: NewCodec rejects EncodingOpus, and neither binary
// advertises "opus" in protocol.capabilities.
type OpusCodec struct {
	enc *opus.Encoder
	dec *opus.Decoder
}

// NewOpusCodec builds an encoder/decoder pair for 16 kHz mono voice.
func NewOpusCodec() (*OpusCodec, error) {
	enc, err := opus.NewEncoder(AgentSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encoder: %w", err)
	}
	dec, err := opus.NewDecoder(AgentSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decoder: %w", err)
	}
	return &OpusCodec{enc: enc, dec: dec}, nil
}

// EncodeFrame compresses one 20ms s16le PCM frame (320 samples at 16kHz)
// into an Opus packet.
func (c *OpusCodec) EncodeFrame(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrFrameMisaligned
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}
	out := make([]byte, 4000)
	n, err := c.enc.Encode(samples, out)
	if err != nil {
		return nil, fmt.Errorf("audio: opus encode: %w", err)
	}
	return out[:n], nil
}

// DecodeFrame expands one Opus packet back into s16le PCM.
func (c *OpusCodec) DecodeFrame(packet []byte) ([]byte, error) {
	pcm := make([]int16, frameSamples(AgentSampleRate, 20))
	n, err := c.dec.Decode(packet, pcm)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		out[2*i] = byte(pcm[i])
		out[2*i+1] = byte(pcm[i] >> 8)
	}
	return out, nil
}

func frameSamples(sampleRate, frameMs int) int {
	return sampleRate * frameMs / 1000
}
