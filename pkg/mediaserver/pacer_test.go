package mediaserver

import "testing"

func TestPacerUnderrunProducesSilence(t *testing.T) {
	p := NewPacer(20, 640, 2, 5)
	frame, ok := p.Pull()
	if ok {
		t.Fatal("expected underrun on empty buffer")
	}
	if len(frame) != 640 {
		t.Fatalf("expected comfort-noise frame of 640 bytes, got %d", len(frame))
	}
	for _, b := range frame {
		if b != 0 {
			t.Fatal("expected comfort noise to be silence")
		}
	}
	underrun, _, _ := p.Stats()
	if underrun != 1 {
		t.Fatalf("expected 1 underrun, got %d", underrun)
	}
}

func TestPacerOverflowDropsOldest(t *testing.T) {
	p := NewPacer(20, 4, 2, 3)
	p.Push([]byte{1, 1, 1, 1})
	p.Push([]byte{2, 2, 2, 2})
	p.Push([]byte{3, 3, 3, 3})
	p.Push([]byte{4, 4, 4, 4}) // overflow: drops frame 1

	_, overflow, _ := p.Stats()
	if overflow != 1 {
		t.Fatalf("expected 1 overflow event, got %d", overflow)
	}

	frame, ok := p.Pull()
	if !ok {
		t.Fatal("expected buffered frame")
	}
	if frame[0] != 2 {
		t.Fatalf("expected oldest-dropped order to leave frame 2 first, got %v", frame)
	}
}

func TestPacerFlushClearsBuffer(t *testing.T) {
	p := NewPacer(20, 4, 2, 5)
	p.Push([]byte{9, 9, 9, 9})
	p.Flush()
	if p.Depth() != 0 {
		t.Fatalf("expected empty buffer after flush, got depth %d", p.Depth())
	}
}

func TestPacerDiscardCountsWithoutBuffering(t *testing.T) {
	p := NewPacer(20, 4, 2, 5)
	p.Discard()
	p.Discard()
	if p.Depth() != 0 {
		t.Fatalf("expected Discard not to buffer a frame, got depth %d", p.Depth())
	}
	_, _, discarded := p.Stats()
	if discarded != 2 {
		t.Fatalf("expected 2 discarded, got %d", discarded)
	}
}

func TestPacerFIFOOrder(t *testing.T) {
	p := NewPacer(20, 1, 2, 5)
	p.Push([]byte{1})
	p.Push([]byte{2})
	p.Push([]byte{3})

	for _, want := range []byte{1, 2, 3} {
		frame, ok := p.Pull()
		if !ok || frame[0] != want {
			t.Fatalf("expected FIFO order, got %v (ok=%v)", frame, ok)
		}
	}
}
