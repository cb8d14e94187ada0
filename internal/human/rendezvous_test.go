package human

import (
	"testing"
	"time"

	"github.com/benchlab/fleetbench/internal/benchapi"
)

func TestRequestConfirmed(t *testing.T) {
	r := New()
	done := make(chan Result, 1)
	go func() {
		res, err := r.Request("press button", 2*time.Second)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		done <- res
	}()

	time.Sleep(50 * time.Millisecond)
	if err := r.Done(); err != nil {
		t.Fatalf("Done failed: %v", err)
	}

	select {
	case res := <-done:
		if !res.Confirmed || res.TimedOut {
			t.Fatalf("unexpected result: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not return")
	}
}

func TestSecondRequestConflicts(t *testing.T) {
	r := New()
	go r.Request("first", time.Second)
	time.Sleep(20 * time.Millisecond)

	_, err := r.Request("second", time.Second)
	be, ok := benchapi.As(err)
	if !ok || be.Kind != benchapi.Conflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	r.Cancel()
}

func TestRequestTimesOut(t *testing.T) {
	r := New()
	res, err := r.Request("x", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Confirmed || !res.TimedOut {
		t.Fatalf("expected timeout result, got %+v", res)
	}
}
