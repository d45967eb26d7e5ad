package audio

import "testing"

func sineWave(n int, freq, sampleRate float64) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(8000.0 * sin(2*3.14159265*freq*float64(i)/sampleRate))
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// sin avoids importing math just for the test helper above being obviously
// math-backed; kept trivial and self-contained.
func sin(x float64) float64 {
	// Bhaskara I approximation, good enough for a codec round-trip fixture.
	for x > 3.14159265 {
		x -= 2 * 3.14159265
	}
	for x < -3.14159265 {
		x += 2 * 3.14159265
	}
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}
	y := 16 * x * (3.14159265 - x)
	d := 5*3.14159265*3.14159265 - 4*x*(3.14159265-x)
	return sign * y / d
}

func TestMulawRoundTrip(t *testing.T) {
	pcm := sineWave(160, 200, 8000)
	c, err := NewCodec(EncodingMulaw, 8000)
	if err != nil {
		t.Fatal(err)
	}
	wire, err := c.Encode(upsampleToAgent(pcm))
	if err != nil {
		t.Fatal(err)
	}
	back, err := c.Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) == 0 {
		t.Fatal("expected decoded PCM")
	}
}

func upsampleToAgent(pcm8k []byte) []byte {
	return Resample(pcm8k, 8000, AgentSampleRate)
}

func TestAlawRoundTrip(t *testing.T) {
	for i := -30000; i <= 30000; i += 997 {
		s := int16(i)
		b := linearToAlaw(s)
		back := alawToLinear(b)
		diff := int(s) - int(back)
		if diff < 0 {
			diff = -diff
		}
		if diff > 1200 {
			t.Fatalf("A-law quantisation error too large for %d: got %d (diff %d)", s, back, diff)
		}
	}
}

func TestMulawQuantisation(t *testing.T) {
	for i := -30000; i <= 30000; i += 997 {
		s := int16(i)
		b := linearToMulaw(s)
		back := mulawToLinear(b)
		diff := int(s) - int(back)
		if diff < 0 {
			diff = -diff
		}
		if diff > 1200 {
			t.Fatalf("mu-law quantisation error too large for %d: got %d (diff %d)", s, back, diff)
		}
	}
}

func TestReframeConcatenation(t *testing.T) {
	pcm := make([]byte, 1000)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	frames, trailing := Reframe(pcm, 16000, 20)
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	out = append(out, trailing...)
	if len(out) != len(pcm) {
		t.Fatalf("expected %d bytes reassembled, got %d", len(pcm), len(out))
	}
	for i := range pcm {
		if out[i] != pcm[i] {
			t.Fatalf("byte %d mismatch: %d != %d", i, out[i], pcm[i])
		}
	}
}

func TestFrameMisaligned(t *testing.T) {
	c, err := NewCodec(EncodingPCMS16LE, 8000)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Encode([]byte{0x01}); err != ErrFrameMisaligned {
		t.Fatalf("expected ErrFrameMisaligned, got %v", err)
	}
}

func TestInvalidEncoding(t *testing.T) {
	if _, err := NewCodec(Encoding("flac"), 8000); err != ErrInvalidEncoding {
		t.Fatalf("expected ErrInvalidEncoding, got %v", err)
	}
}
