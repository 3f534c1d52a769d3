package job

import "testing"

func TestStateMachineForwardPath(t *testing.T) {
	j := New("chat-1", "https://example.com/v", ModeVideo, Quality720)

	for _, next := range []State{StateRetrieving, StateTransforming, StateDelivering, StateCompleted} {
		if err := j.To(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if !j.State.Terminal() {
		t.Error("completed must be terminal")
	}
}

func TestStateMachineSkipsTransformForAudio(t *testing.T) {
	j := New("chat-1", "https://example.com/a", ModeAudio, QualityBest)
	if err := j.To(StateRetrieving); err != nil {
		t.Fatal(err)
	}
	if err := j.To(StateDelivering); err != nil {
		t.Errorf("retrieving -> delivering must be legal: %v", err)
	}
}

func TestNoBackwardTransitions(t *testing.T) {
	j := New("chat-1", "https://example.com/v", ModeVideo, QualityBest)
	_ = j.To(StateRetrieving)
	_ = j.To(StateDelivering)

	if err := j.To(StateRetrieving); err == nil {
		t.Error("backward transition delivering -> retrieving must be rejected")
	}
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	for _, from := range []State{StateQueued, StateRetrieving, StateTransforming, StateDelivering} {
		j := New("chat-1", "https://example.com/v", ModeVideo, QualityBest)
		j.State = from
		if err := j.To(StateCancelled); err != nil {
			t.Errorf("cancel from %s: %v", from, err)
		}
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	j := New("chat-1", "https://example.com/v", ModeVideo, QualityBest)
	j.State = StateFailed
	if err := j.To(StateRetrieving); err == nil {
		t.Error("must not leave a terminal state")
	}
	if err := j.To(StateCancelled); err == nil {
		t.Error("failed -> cancelled must be rejected")
	}
}

func TestProgressMonotonicWithinPhase(t *testing.T) {
	j := New("chat-1", "https://example.com/v", ModeVideo, QualityBest)

	j.SetProgress(PhaseRetrieve, 100, 1000)
	j.SetProgress(PhaseRetrieve, 50, 1000) // stale update
	if j.Progress.Done != 100 {
		t.Errorf("bytesDone regressed within a phase: %d", j.Progress.Done)
	}

	// A new phase resets the counter.
	j.SetProgress(PhaseDeliver, 10, 1000)
	if j.Progress.Done != 10 || j.Progress.Phase != PhaseDeliver {
		t.Errorf("phase change should reset progress, got %+v", j.Progress)
	}
}

func TestQualityHeight(t *testing.T) {
	tests := []struct {
		q    Quality
		want int
	}{
		{QualityBest, 0},
		{Quality1080, 1080},
		{Quality720, 720},
		{Quality480, 480},
		{Quality360, 360},
	}
	for _, tt := range tests {
		if got := tt.q.Height(); got != tt.want {
			t.Errorf("Height(%s) = %d, want %d", tt.q, got, tt.want)
		}
	}
	if Quality("144").Valid() {
		t.Error("unlisted quality must not be valid")
	}
}
