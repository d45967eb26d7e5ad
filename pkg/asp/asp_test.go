package asp

import (
	"testing"
)

func TestEncodeDecodeControlRoundTrip(t *testing.T) {
	msg := &SessionStart{
		Envelope: Envelope{Type: TypeSessionStart, SessionID: "sess-1", Seq: 1, TsMs: 1000},
		Audio:    AudioParams{SampleRate: 8000, Encoding: "mulaw", FrameMs: 20},
		VAD:      VADParams{MinSpeechMs: 120},
	}
	b, err := EncodeControl(msg)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := DecodeControl(b)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := decoded.(*SessionStart)
	if !ok {
		t.Fatalf("expected *SessionStart, got %T", decoded)
	}
	if got.SessionID != "sess-1" || got.Audio.SampleRate != 8000 || got.VAD.MinSpeechMs != 120 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestPeekTypeRejectsMissingType(t *testing.T) {
	_, err := PeekType([]byte(`{"session_id":"x"}`))
	if err == nil {
		t.Fatal("expected error for message with no type field")
	}
}

func TestDecodeControlRejectsUnknownType(t *testing.T) {
	_, err := DecodeControl([]byte(`{"type":"bogus.message","session_id":"x"}`))
	if err == nil {
		t.Fatal("expected error for unknown message type")
	}
}

func TestAudioFrameEncodeDecodeRoundTrip(t *testing.T) {
	f := AudioFrame{
		StreamID:    7,
		Seq:         42,
		TimestampMs: 123456,
		Flags:       FlagFinal,
		Payload:     []byte{1, 2, 3, 4, 5},
	}
	b := f.Encode()
	if len(b) != FrameHeaderSize+len(f.Payload) {
		t.Fatalf("unexpected encoded length %d", len(b))
	}

	got, err := DecodeAudioFrame(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.StreamID != f.StreamID || got.Seq != f.Seq || got.TimestampMs != f.TimestampMs {
		t.Fatalf("header mismatch: %+v", got)
	}
	if !got.HasFlag(FlagFinal) {
		t.Fatal("expected FlagFinal to survive round trip")
	}
	if string(got.Payload) != string(f.Payload) {
		t.Fatalf("payload mismatch: %v", got.Payload)
	}
}

func TestDecodeAudioFrameRejectsShortBuffer(t *testing.T) {
	_, err := DecodeAudioFrame([]byte{1, 2, 3})
	if err == nil {
		t.Fatal("expected error for buffer shorter than header")
	}
}

func TestResponseStartEnvelopeRoundTrip(t *testing.T) {
	// §4.3 requires response.start on the wire before the first audio
	// frame of that response; this only documents the envelope shape a
	// caller must emit in that order since ordering itself is a property
	// of Transport.SendControl/SendAudio being called sequentially.
	start := &ResponseStart{
		Envelope:    Envelope{Type: TypeResponseStart, SessionID: "s", Seq: 1},
		ResponseID:  "r1",
		UtteranceID: "u1",
	}
	b, err := EncodeControl(start)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeControl(b)
	if err != nil {
		t.Fatal(err)
	}
	got := decoded.(*ResponseStart)
	if got.ResponseID != "r1" || got.UtteranceID != "u1" {
		t.Fatalf("unexpected decode: %+v", got)
	}
}
