package vad

import (
	"testing"
	"time"
)

func silenceFrame(n int) []byte { return make([]byte, n) }

func speechFrame(n int, amp int16) []byte {
	out := make([]byte, n)
	for i := 0; i+1 < n; i += 2 {
		out[i] = byte(amp)
		out[i+1] = byte(amp >> 8)
	}
	return out
}

func TestNoSpeechNeverBegins(t *testing.T) {
	d := NewDetector(NewEnergyClassifier(0.05, 100), DefaultParams(), 20)
	now := time.Now()
	for i := 0; i < 200; i++ {
		ev, err := d.Process(silenceFrame(640), now)
		if err != nil {
			t.Fatal(err)
		}
		if ev != nil && ev.Type == SpeechBegin {
			t.Fatalf("unexpected speech.begin on pure silence at frame %d", i)
		}
		now = now.Add(20 * time.Millisecond)
	}
}

func TestSpeechBeginAfterMinDuration(t *testing.T) {
	d := NewDetector(NewEnergyClassifier(0.05, 100), DefaultParams(), 20)
	now := time.Now()
	var gotBegin bool
	for i := 0; i < 20; i++ {
		ev, err := d.Process(speechFrame(640, 12000), now)
		if err != nil {
			t.Fatal(err)
		}
		if ev != nil && ev.Type == SpeechBegin {
			gotBegin = true
			break
		}
		now = now.Add(20 * time.Millisecond)
	}
	if !gotBegin {
		t.Fatal("expected speech.begin within 20 frames of sustained speech")
	}
}

func TestSpeechEndAfterHangover(t *testing.T) {
	params := DefaultParams()
	d := NewDetector(NewEnergyClassifier(0.05, 100), params, 20)
	now := time.Now()

	for i := 0; i < 10; i++ {
		d.Process(speechFrame(640, 12000), now)
		now = now.Add(20 * time.Millisecond)
	}
	if !d.IsSpeaking() {
		t.Fatal("expected detector to be in speaking state")
	}

	var gotEnd bool
	for i := 0; i < 40; i++ {
		ev, _ := d.Process(silenceFrame(640), now)
		if ev != nil && ev.Type == SpeechEnd {
			gotEnd = true
			break
		}
		now = now.Add(20 * time.Millisecond)
	}
	if !gotEnd {
		t.Fatal("expected speech.end after silence hangover")
	}
}

func TestBargeInFasterThanSpeechEnd(t *testing.T) {
	params := DefaultParams()
	d := NewDetector(NewEnergyClassifier(0.05, 100), params, 20)
	d.SetMode(ModeSpeaking)

	now := time.Now()
	var bargeInAt, i int
	for i = 0; i < 20; i++ {
		ev, _ := d.Process(speechFrame(640, 12000), now)
		if ev != nil {
			if ev.Type != BargeIn {
				t.Fatalf("expected barge_in while Speaking, got %s", ev.Type)
			}
			bargeInAt = i
			break
		}
		now = now.Add(20 * time.Millisecond)
	}
	if bargeInAt == 0 && i == 20 {
		t.Fatal("expected a barge_in event")
	}
	bargeInMs := bargeInAt * 20
	if bargeInMs >= params.SilenceHangoverMs {
		t.Fatalf("barge-in (%dms) did not fire faster than speech.end hangover (%dms)", bargeInMs, params.SilenceHangoverMs)
	}
}

func TestNoiseCountsAsNonSpeech(t *testing.T) {
	// A zero-crossing-heavy, moderate-energy frame should classify as Noise,
	// which must not itself trigger speech.begin.
	c := NewEnergyClassifier(0.02, 100)
	frame := make([]byte, 640)
	amp := int16(3000)
	for i := 0; i+1 < len(frame); i += 2 {
		if (i/2)%2 == 0 {
			amp = 3000
		} else {
			amp = -3000
		}
		frame[i] = byte(amp)
		frame[i+1] = byte(amp >> 8)
	}
	cls, err := c.Classify(frame)
	if err != nil {
		t.Fatal(err)
	}
	if cls == Speech {
		t.Fatalf("expected high-ZCR frame to classify as Noise or NonSpeech, got Speech")
	}
}
