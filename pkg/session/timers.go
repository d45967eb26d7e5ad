package session

import "time"

// Default timer durations from §4.4 and §5.
const (
	DefaultStartingTimeout    = 5 * time.Second
	DefaultProcessingTimeout  = 10 * time.Second
	DefaultIdleTimeout        = 300 * time.Second
	DefaultPingInterval       = 15 * time.Second
	DefaultCancelDeadline     = 50 * time.Millisecond
	DefaultSessionCancelDeadline = 500 * time.Millisecond
	DefaultBackpressureTimeout   = 2 * time.Second
)

// Timers bundles the per-session timer configuration so it can be
// overridden (from config) without threading seven separate durations
// through every constructor.
type Timers struct {
	StartingTimeout      time.Duration
	ProcessingTimeout    time.Duration
	IdleTimeout          time.Duration
	PingInterval         time.Duration
	CancelDeadline       time.Duration
	SessionCancelDeadline time.Duration
	BackpressureTimeout  time.Duration
}

// DefaultTimers returns the §4.4/§5 defaults.
func DefaultTimers() Timers {
	return Timers{
		StartingTimeout:       DefaultStartingTimeout,
		ProcessingTimeout:     DefaultProcessingTimeout,
		IdleTimeout:           DefaultIdleTimeout,
		PingInterval:          DefaultPingInterval,
		CancelDeadline:        DefaultCancelDeadline,
		SessionCancelDeadline: DefaultSessionCancelDeadline,
		BackpressureTimeout:   DefaultBackpressureTimeout,
	}
}

// Deadline computes watchdog fire timestamps relative to a start time; it
// exists mainly so callers building timer.NewTimer chains have one place
// to reason about "timeout from when".
type Deadline struct {
	timer *time.Timer
}

// NewDeadline starts a one-shot timer that calls fire after d unless it is
// stopped first via Cancel.
func NewDeadline(d time.Duration, fire func()) *Deadline {
	return &Deadline{timer: time.AfterFunc(d, fire)}
}

// Cancel stops the deadline; returns false if it already fired.
func (d *Deadline) Cancel() bool {
	if d == nil || d.timer == nil {
		return true
	}
	return d.timer.Stop()
}

// Reset restarts the deadline with a new duration.
func (d *Deadline) Reset(dur time.Duration) {
	if d == nil || d.timer == nil {
		return
	}
	d.timer.Reset(dur)
}
