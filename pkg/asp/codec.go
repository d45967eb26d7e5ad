package asp

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// jsonAPI marshals and unmarshals control messages. sonic is a drop-in,
// faster encoding/json replacement; the control plane is JSON on the wire
// per §4.3, so every message passes through here in Transport.SendControl
// and Transport.Recv.
var jsonAPI = sonic.ConfigStd

// EncodeControl marshals any control message value (Capabilities,
// SessionStart, ResponseEnd, ...) to its JSON wire form.
func EncodeControl(v any) ([]byte, error) {
	b, err := jsonAPI.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("asp: encode control message: %w", err)
	}
	return b, nil
}

// PeekType decodes only the envelope to discover a message's type before
// unmarshalling the full typed payload.
func PeekType(raw []byte) (MessageType, error) {
	var env Envelope
	if err := jsonAPI.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCodecMismatch, err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("%w: missing type field", ErrProtocolViolation)
	}
	return env.Type, nil
}

// DecodeControl dispatches on the envelope's type and unmarshals raw into
// the matching concrete struct, returned as `any`. Callers type-switch on
// the result.
func DecodeControl(raw []byte) (any, error) {
	t, err := PeekType(raw)
	if err != nil {
		return nil, err
	}

	var dst any
	switch t {
	case TypeCapabilities:
		dst = &Capabilities{}
	case TypeSessionStart:
		dst = &SessionStart{}
	case TypeSessionStarted:
		dst = &SessionStarted{}
	case TypeSessionRejected:
		dst = &SessionRejected{}
	case TypeSessionConfigure:
		dst = &SessionConfigure{}
	case TypeAudioEnd:
		dst = &AudioEnd{}
	case TypeBargeIn:
		dst = &BargeIn{}
	case TypeResponseStart:
		dst = &ResponseStart{}
	case TypeResponseEnd:
		dst = &ResponseEnd{}
	case TypeResponseCancelled:
		dst = &ResponseCancelled{}
	case TypePing:
		dst = &Ping{}
	case TypePong:
		dst = &Pong{}
	case TypeSessionEnd:
		dst = &SessionEnd{}
	case TypeSessionEnded:
		dst = &SessionEnded{}
	case TypeError:
		dst = &ErrorMessage{}
	case TypePlaybackSafe:
		dst = &PlaybackSafe{}
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrProtocolViolation, t)
	}

	if err := jsonAPI.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodecMismatch, err)
	}
	return dst, nil
}
