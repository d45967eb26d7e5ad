// Package audio implements the C1 audio frame & codec adapter: conversion
// between agent-side linear PCM and telephony-side codecs, resampling, and
// fixed-duration reframing. Two streams never share a Codec's internal
// buffers — callers get one Codec (or Resampler, or Framer) per stream.
package audio

import "errors"

// Encoding identifies a supported wire codec.
type Encoding string

const (
	EncodingPCMS16LE Encoding = "pcm_s16le"
	EncodingMulaw    Encoding = "mulaw"
	EncodingAlaw     Encoding = "alaw"
	EncodingOpus     Encoding = "opus"
)

var (
	// ErrInvalidEncoding is returned for an Encoding value the adapter does
	// not support.
	ErrInvalidEncoding = errors.New("audio: invalid encoding")
	// ErrFrameMisaligned is returned when a payload length is not a multiple
	// of the codec's sample size (PCM codecs only; mulaw/alaw/opus are
	// byte-per-sample or container-framed and can't misalign this way).
	ErrFrameMisaligned = errors.New("audio: frame payload not aligned to sample size")
)

// BytesPerSample returns the encoded byte width of one sample for PCM-family
// encodings. mulaw/alaw are always 1 byte/sample; opus has no fixed ratio
// and reports 0.
func BytesPerSample(enc Encoding) int {
	switch enc {
	case EncodingPCMS16LE:
		return 2
	case EncodingMulaw, EncodingAlaw:
		return 1
	default:
		return 0
	}
}

// Codec converts between 16 kHz mono linear PCM (the agent side) and one
// telephony encoding at a given sample rate. It is stateless with respect to
// the conversion math and holds no per-stream buffers; framing remainder
// lives in a Framer, which each stream owns separately.
type Codec struct {
	enc        Encoding
	sampleRate int
}

// NewCodec returns a Codec for the given telephony encoding/sample rate.
// Only 8000 and 16000 Hz are valid telephony sample rates per spec.
func NewCodec(enc Encoding, sampleRate int) (*Codec, error) {
	switch enc {
	case EncodingPCMS16LE, EncodingMulaw, EncodingAlaw:
	default:
		return nil, ErrInvalidEncoding
	}
	if sampleRate != 8000 && sampleRate != 16000 {
		return nil, ErrInvalidEncoding
	}
	return &Codec{enc: enc, sampleRate: sampleRate}, nil
}

// Encode converts 16 kHz mono s16le PCM (agent side) into the codec's wire
// representation at the codec's negotiated sample rate.
func (c *Codec) Encode(pcmAgent []byte) ([]byte, error) {
	if len(pcmAgent)%2 != 0 {
		return nil, ErrFrameMisaligned
	}
	pcm := pcmAgent
	if c.sampleRate != AgentSampleRate {
		pcm = Resample(pcm, AgentSampleRate, c.sampleRate)
	}
	switch c.enc {
	case EncodingPCMS16LE:
		return pcm, nil
	case EncodingMulaw:
		return pcmToMulaw(pcm), nil
	case EncodingAlaw:
		return pcmToAlaw(pcm), nil
	default:
		return nil, ErrInvalidEncoding
	}
}

// Decode converts telephony-side bytes back into 16 kHz mono s16le PCM.
func (c *Codec) Decode(wire []byte) ([]byte, error) {
	var pcm []byte
	switch c.enc {
	case EncodingPCMS16LE:
		if len(wire)%2 != 0 {
			return nil, ErrFrameMisaligned
		}
		pcm = wire
	case EncodingMulaw:
		pcm = mulawToPCM(wire)
	case EncodingAlaw:
		pcm = alawToPCM(wire)
	default:
		return nil, ErrInvalidEncoding
	}
	if c.sampleRate != AgentSampleRate {
		pcm = Resample(pcm, c.sampleRate, AgentSampleRate)
	}
	return pcm, nil
}

// AgentSampleRate is the fixed rate the conversation side of the bridge
// always speaks (§3: "agent-side: 16 kHz mono s16le").
const AgentSampleRate = 16000

// --- G.711 μ-law / A-law, standard ITU tables-free bit-twiddling form ---

const (
	muBias = 0x84
	muClip = 32635
)

func pcmToMulaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = linearToMulaw(s)
	}
	return out
}

func mulawToPCM(wire []byte) []byte {
	out := make([]byte, len(wire)*2)
	for i, b := range wire {
		s := mulawToLinear(b)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func linearToMulaw(sample int16) byte {
	sign := byte(0x00)
	s := int(sample)
	if s < 0 {
		sign = 0x80
		s = -s
	}
	if s > muClip {
		s = muClip
	}
	s += muBias

	exponent := 7
	for mask := 0x4000; (s&mask) == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> uint(exponent+3)) & 0x0F)
	mu := ^(sign | byte(exponent<<4) | mantissa)
	return mu
}

func mulawToLinear(mu byte) int16 {
	mu = ^mu
	sign := mu & 0x80
	exponent := (mu >> 4) & 0x07
	mantissa := mu & 0x0F
	sample := (int(mantissa)<<3 + muBias) << uint(exponent)
	sample -= muBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

const alawClip = 0x7FFF

func pcmToAlaw(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		s := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		out[i] = linearToAlaw(s)
	}
	return out
}

func alawToPCM(wire []byte) []byte {
	out := make([]byte, len(wire)*2)
	for i, b := range wire {
		s := alawToLinear(b)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func linearToAlaw(sample int16) byte {
	sign := byte(0x80)
	s := int(sample)
	if s >= 0 {
		sign = 0x80
	} else {
		sign = 0x00
		s = -s - 1
	}
	if s > alawClip {
		s = alawClip
	}

	var exponent, mantissa byte
	if s >= 256 {
		exponent = 1
		for mask := 0x4000; (s&mask) == 0 && exponent < 8; mask >>= 1 {
			exponent++
		}
		exponent = 8 - exponent
		mantissa = byte((s >> uint(exponent+3)) & 0x0F)
	} else {
		exponent = 0
		mantissa = byte((s >> 4) & 0x0F)
	}
	alaw := sign | (exponent << 4) | mantissa
	return alaw ^ 0x55
}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	sign := a & 0x80
	exponent := (a >> 4) & 0x07
	mantissa := a & 0x0F

	var sample int
	if exponent == 0 {
		sample = (int(mantissa) << 4) + 8
	} else {
		sample = ((int(mantissa) << 4) + 0x108) << uint(exponent-1)
	}
	if sign == 0 {
		sample = -sample
	}
	return int16(sample)
}
