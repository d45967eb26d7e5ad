package asp

import "errors"

// Sentinel errors for §7's transport/protocol-level error taxonomy.
// Provider and pipeline errors live in their own packages.
var (
	ErrProtocolViolation = errors.New("asp: protocol violation")
	ErrCodecMismatch     = errors.New("asp: codec mismatch")
	ErrBackpressure      = errors.New("asp: send buffer exceeds high watermark")
	ErrTimeout           = errors.New("asp: timeout")
	ErrTransportClosed   = errors.New("asp: transport closed")
)
