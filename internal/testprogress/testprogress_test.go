package testprogress

import "testing"

func TestUpdateThenSnapshot(t *testing.T) {
	tr := New()
	if got := tr.Snapshot(); got.Percent != 0 || got.Step != "" {
		t.Fatalf("expected zero-value state before first update, got %+v", got)
	}

	tr.Update(State{Project: "esp32-blink", Step: "flash", Percent: 50})
	got := tr.Snapshot()
	if got.Project != "esp32-blink" || got.Step != "flash" || got.Percent != 50 {
		t.Fatalf("got %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("expected Update to stamp UpdatedAt")
	}
}

func TestUpdateOverwritesPriorState(t *testing.T) {
	tr := New()
	tr.Update(State{Project: "a", Percent: 10})
	tr.Update(State{Project: "b", Percent: 90})

	got := tr.Snapshot()
	if got.Project != "b" || got.Percent != 90 {
		t.Fatalf("expected latest update to win, got %+v", got)
	}
}
