package session

import "testing"

func TestHappyPathTransitionSequence(t *testing.T) {
	m := NewMachine(nil)
	steps := []struct {
		trig Trigger
		want State
	}{
		{TriggerTransportUp, StateCapabilities},
		{TriggerSessionStart, StateStarting},
		{TriggerSessionAccepted, StateActiveListening},
		{TriggerUtteranceReady, StateActiveProcessing},
		{TriggerFirstFrameOut, StateActiveSpeaking},
		{TriggerResponseDone, StateActiveListening},
		{TriggerSessionEnd, StateEnding},
		{TriggerSessionEnded, StateClosed},
	}
	for _, step := range steps {
		got, err := m.Fire(step.trig)
		if err != nil {
			t.Fatalf("Fire(%s): %v", step.trig, err)
		}
		if got != step.want {
			t.Fatalf("Fire(%s) = %s, want %s", step.trig, got, step.want)
		}
	}
}

func TestBargeInDuringSpeakingGoesToProcessing(t *testing.T) {
	m := NewMachine(nil)
	m.Fire(TriggerTransportUp)
	m.Fire(TriggerSessionStart)
	m.Fire(TriggerSessionAccepted)
	m.Fire(TriggerUtteranceReady)
	m.Fire(TriggerFirstFrameOut)

	got, err := m.Fire(TriggerBargeIn)
	if err != nil {
		t.Fatal(err)
	}
	if got != StateActiveProcessing {
		t.Fatalf("barge_in while Speaking should land in Active/Processing, got %s", got)
	}
}

func TestBargeInWhileListeningIsIgnored(t *testing.T) {
	m := NewMachine(nil)
	m.Fire(TriggerTransportUp)
	m.Fire(TriggerSessionStart)
	m.Fire(TriggerSessionAccepted)

	got, err := m.Fire(TriggerBargeIn)
	if err != nil {
		t.Fatal(err)
	}
	if got != StateActiveListening {
		t.Fatalf("barge_in while Listening must be a no-op, got %s", got)
	}
}

func TestTransportLossClosesFromAnyState(t *testing.T) {
	for _, start := range []Trigger{TriggerTransportUp, TriggerSessionStart} {
		m := NewMachine(nil)
		m.Fire(start)
		got, err := m.Fire(TriggerTransportLoss)
		if err != nil {
			t.Fatal(err)
		}
		if got != StateClosed {
			t.Fatalf("transport_loss must close from any state, got %s", got)
		}
	}
}

func TestIllegalTriggerRejected(t *testing.T) {
	m := NewMachine(nil)
	_, err := m.Fire(TriggerUtteranceReady) // illegal from Idle
	if err == nil {
		t.Fatal("expected error firing utterance_ready from Idle")
	}
}

func TestCanReportsWithoutMutating(t *testing.T) {
	m := NewMachine(nil)
	if m.Can(TriggerUtteranceReady) {
		t.Fatal("utterance_ready should not be legal from Idle")
	}
	if !m.Can(TriggerTransportUp) {
		t.Fatal("transport_up should be legal from Idle")
	}
	if m.State() != StateIdle {
		t.Fatal("Can must not mutate state")
	}
}
