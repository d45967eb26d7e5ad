package mediaserver

import "testing"

func sineSamples(n int, freqHz, sampleRate float64) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		// cheap triangle-ish wave, no math.Sin dependency needed for the test
		phase := float64(i) * freqHz / sampleRate
		frac := phase - float64(int(phase))
		v := 0.6 * (2*frac - 1)
		s := int16(v * 32767)
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

func TestEchoSuppressorDetectsPlayedAudio(t *testing.T) {
	es := NewEchoSuppressor()
	played := sineSamples(320, 220, 16000)
	es.RecordPlayedAudio(played)

	if !es.IsEcho(played) {
		t.Fatal("expected identical played-back audio to be classified as echo")
	}
}

func TestEchoSuppressorIgnoresSilenceWindow(t *testing.T) {
	es := NewEchoSuppressor()
	es.echoSilence = 0 // force the "haven't played recently" branch
	played := sineSamples(320, 220, 16000)
	es.RecordPlayedAudio(played)

	if es.IsEcho(played) {
		t.Fatal("expected no echo once outside the playback recency window")
	}
}

func TestEchoSuppressorClearBuffer(t *testing.T) {
	es := NewEchoSuppressor()
	played := sineSamples(320, 220, 16000)
	es.RecordPlayedAudio(played)
	es.ClearBuffer()

	if es.IsEcho(played) {
		t.Fatal("expected no echo detection after buffer clear")
	}
}

func TestEchoSuppressorDisabled(t *testing.T) {
	es := NewEchoSuppressor()
	es.SetEnabled(false)
	played := sineSamples(320, 220, 16000)
	es.RecordPlayedAudio(played)
	if es.IsEcho(played) {
		t.Fatal("expected disabled suppressor to never report echo")
	}
}
