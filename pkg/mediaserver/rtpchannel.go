package mediaserver

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/asp-voice/bridge/pkg/audio"
)

// RTPChannel is a reference telephony-leg MediaChannel: RTP/UDP carrying
// G.711 payload, packetized with pion/rtp. SIP signaling and dialplan
// integration are out of scope (§1 Non-goals); callers supply an
// already-negotiated remote address.
type RTPChannel struct {
	telephonySampleRate int // wire-side rate negotiated for RTP (8000/16000)
	frameMs             int
	payloadPT           uint8
	codec               *audio.Codec

	conn       *net.UDPConn
	remoteAddr *net.UDPAddr

	seq       uint32
	ssrc      uint32
	startedAt uint32

	framer *audio.Framer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRTPChannel opens a UDP socket on localAddr and targets remoteAddr,
// negotiating G.711 mu-law (payload type 0) at telephonySampleRate on the
// wire. Frames()/Play() exchange PCM at the fixed agent rate (16kHz);
// audio.Codec handles the resampling between the two.
func NewRTPChannel(localAddr, remoteAddr string, telephonySampleRate, frameMs int, ssrc uint32) (*RTPChannel, error) {
	local, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("mediaserver: resolve local addr: %w", err)
	}
	remote, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("mediaserver: resolve remote addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("mediaserver: listen udp: %w", err)
	}

	codec, err := audio.NewCodec(audio.EncodingMulaw, telephonySampleRate)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &RTPChannel{
		telephonySampleRate: telephonySampleRate,
		frameMs:             frameMs,
		payloadPT:           0, // PCMU
		codec:               codec,
		conn:                conn,
		remoteAddr:          remote,
		ssrc:                ssrc,
		framer:              audio.NewFramer(agentSampleRateHz, frameMs),
		closed:               make(chan struct{}),
	}, nil
}

// SampleRate reports the agent-side PCM rate exchanged through
// Frames()/Play(); the negotiated telephony wire rate is handled
// internally by the codec.
func (c *RTPChannel) SampleRate() int { return agentSampleRateHz }
func (c *RTPChannel) FrameMs() int    { return c.frameMs }

// Frames reads RTP packets off the socket, decodes the G.711 payload back
// to PCM, and reframes to the fixed frame duration.
func (c *RTPChannel) Frames(ctx context.Context) (<-chan []byte, error) {
	out := make(chan []byte, 32)
	go func() {
		defer close(out)
		buf := make([]byte, 1500)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			default:
			}
			c.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			n, _, err := c.conn.ReadFromUDP(buf)
			if err != nil {
				continue
			}
			var pkt rtp.Packet
			if err := pkt.Unmarshal(buf[:n]); err != nil {
				continue
			}
			pcm, err := c.codec.Decode(pkt.Payload)
			if err != nil {
				continue
			}
			for _, frame := range c.framer.Push(pcm) {
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Play encodes a PCM frame to the negotiated codec and sends it as one
// RTP packet.
func (c *RTPChannel) Play(frame []byte) error {
	payload, err := c.codec.Encode(frame)
	if err != nil {
		return err
	}
	samplesPerFrame := uint32(c.telephonySampleRate * c.frameMs / 1000)

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    c.payloadPT,
			SequenceNumber: uint16(atomic.AddUint32(&c.seq, 1)),
			Timestamp:      atomic.AddUint32(&c.startedAt, samplesPerFrame),
			SSRC:           c.ssrc,
		},
		Payload: payload,
	}
	b, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("mediaserver: marshal rtp packet: %w", err)
	}
	_, err = c.conn.WriteToUDP(b, c.remoteAddr)
	return err
}

// Flush is a no-op for RTP: packets already sent cannot be recalled, and
// this channel does not buffer outbound audio itself (the jitter
// buffer/pacer upstream does).
func (c *RTPChannel) Flush() {}

func (c *RTPChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.conn.Close()
}
