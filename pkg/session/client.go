package session

import (
	"context"
	"time"

	"github.com/asp-voice/bridge/pkg/asp"
	"github.com/asp-voice/bridge/pkg/logging"
)

// ClientHooks lets the Media Server driver (pkg/mediaserver) react to
// session transitions it must act on: starting playout, flushing the
// jitter buffer on cancellation, and so on.
type ClientHooks struct {
	OnResponseStart func(responseID, utteranceID string)
	OnResponseEnd   func(responseID string)
	OnCancelled     func(responseID string)
	OnRejected      func(reason string)
}

// Client drives one Media Server-side session: it dials, waits for
// protocol.capabilities, sends session.start, and thereafter tracks the
// same state graph as Server but from the calling side.
type Client struct {
	transport *asp.Transport
	session   *Session
	timers    Timers
	hooks     ClientHooks
	log       logging.Logger

	pingTicker *time.Ticker
}

func NewClient(t *asp.Transport, timers Timers, hooks ClientHooks, log logging.Logger) *Client {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	c := &Client{transport: t, timers: timers, hooks: hooks, log: log}
	c.session = New(c.onTransition)
	c.session.Fire(TriggerTransportUp)
	return c
}

func (c *Client) onTransition(from, to State, trig Trigger) {
	c.log.Debug("session: transition", "session_id", c.session.ID, "from", from, "to", to, "trigger", trig)
}

func (c *Client) Session() *Session { return c.session }

// Start fires the Starting transition and sends session.start with the
// requested audio/VAD parameters. The client arms no starting_timeout
// watchdog; Starting is left on session.started, session.rejected or
// transport loss.
func (c *Client) Start(audio asp.AudioParams, vad asp.VADParams, systemPromptRef string) error {
	if _, err := c.session.Fire(TriggerSessionStart); err != nil {
		return err
	}
	return c.transport.SendControl(&asp.SessionStart{
		Envelope:        asp.Envelope{Type: asp.TypeSessionStart, SessionID: c.session.ID},
		Audio:           audio,
		VAD:             vad,
		SystemPromptRef: systemPromptRef,
	})
}

// HandleSessionStarted accepts negotiated parameters and begins the
// liveness ping loop.
func (c *Client) HandleSessionStarted(msg *asp.SessionStarted) error {
	if _, err := c.session.Fire(TriggerSessionAccepted); err != nil {
		return err
	}
	c.session.Audio = AudioNegotiation{SampleRate: msg.Audio.SampleRate, Encoding: msg.Audio.Encoding, FrameMs: msg.Audio.FrameMs}
	c.session.VAD = VADNegotiation{SilenceHangoverMs: msg.VAD.SilenceHangoverMs, MinSpeechMs: msg.VAD.MinSpeechMs, BargeInMinMs: msg.VAD.BargeInMinMs}
	c.session.StartedAt = time.Now()

	c.pingTicker = time.NewTicker(c.timers.PingInterval)
	go func() {
		for range c.pingTicker.C {
			c.transport.SendControl(&asp.Ping{Envelope: asp.Envelope{Type: asp.TypePing, SessionID: c.session.ID}})
		}
	}()
	return nil
}

func (c *Client) HandleSessionRejected(msg *asp.SessionRejected) {
	c.session.Fire(TriggerSessionRejected)
	if c.hooks.OnRejected != nil {
		c.hooks.OnRejected(msg.Reason)
	}
}

// SendAudioEnd transitions to Processing and sends audio.end for the
// given inbound stream. The processing_timeout watchdog runs on the
// server (session.Server); the client arms none.
func (c *Client) SendAudioEnd(streamID uint32) error {
	if _, err := c.session.Fire(TriggerUtteranceReady); err != nil {
		return err
	}
	return c.transport.SendControl(&asp.AudioEnd{
		Envelope: asp.Envelope{Type: asp.TypeAudioEnd, SessionID: c.session.ID},
		StreamID: streamID,
	})
}

// SendBargeIn notifies the server of caller speech detected during
// playback; it's a documented no-op if we aren't currently in
// Active/Speaking.
func (c *Client) SendBargeIn(responseID string) error {
	if c.session.State() != StateActiveSpeaking {
		return nil
	}
	if _, err := c.session.Fire(TriggerBargeIn); err != nil {
		return err
	}
	return c.transport.SendControl(&asp.BargeIn{
		Envelope:   asp.Envelope{Type: asp.TypeBargeIn, SessionID: c.session.ID},
		ResponseID: responseID,
	})
}

// HandleResponseStart passes the new response to OnResponseStart. It does
// not change state: the client's Active/Processing -> Active/Speaking
// transition fires in NotifyFirstFrame, when the first audio frame of the
// response arrives (§4.4's "first audio frame of response emitted",
// observed from the receiving end).
func (c *Client) HandleResponseStart(msg *asp.ResponseStart) {
	if c.hooks.OnResponseStart != nil {
		c.hooks.OnResponseStart(msg.ResponseID, msg.UtteranceID)
	}
}

func (c *Client) NotifyFirstFrame() error {
	_, err := c.session.Fire(TriggerFirstFrameOut)
	if err != nil && c.session.State() == StateActiveSpeaking {
		return nil
	}
	return err
}

func (c *Client) HandleResponseEnd(msg *asp.ResponseEnd) error {
	if _, err := c.session.Fire(TriggerResponseDone); err != nil {
		return err
	}
	if c.hooks.OnResponseEnd != nil {
		c.hooks.OnResponseEnd(msg.ResponseID)
	}
	return nil
}

func (c *Client) HandleResponseCancelled(msg *asp.ResponseCancelled) error {
	if _, err := c.session.Fire(TriggerResponseCancel); err != nil {
		return err
	}
	if c.hooks.OnCancelled != nil {
		c.hooks.OnCancelled(msg.ResponseID)
	}
	return nil
}

// End requests graceful teardown.
func (c *Client) End(ctx context.Context) error {
	if _, err := c.session.Fire(TriggerSessionEnd); err != nil {
		return err
	}
	return c.transport.SendControl(&asp.SessionEnd{
		Envelope: asp.Envelope{Type: asp.TypeSessionEnd, SessionID: c.session.ID},
	})
}

func (c *Client) HandleSessionEnded(msg *asp.SessionEnded) error {
	_, err := c.session.Fire(TriggerSessionEnded)
	if c.pingTicker != nil {
		c.pingTicker.Stop()
	}
	return err
}

func (c *Client) TransportLost() {
	c.session.Fire(TriggerTransportLoss)
	if c.pingTicker != nil {
		c.pingTicker.Stop()
	}
}
