package gpio

import (
	"testing"

	"github.com/benchlab/fleetbench/internal/benchapi"
)

func TestAllowlistEnforced(t *testing.T) {
	c := NewController([]int{17, 27}, NewSim())

	if err := c.Set(17, High); err != nil {
		t.Fatalf("expected allowed pin to succeed: %v", err)
	}
	err := c.Set(99, Low)
	be, ok := benchapi.As(err)
	if !ok || be.Kind != benchapi.BadRequest {
		t.Fatalf("expected bad_request for non-allowlisted pin, got %v", err)
	}
}

func TestStatusReflectsLastValue(t *testing.T) {
	c := NewController([]int{17}, NewSim())
	c.Set(17, Low)
	status := c.Status()
	if status[17] != Low {
		t.Fatalf("expected pin 17 = Low, got %v", status[17])
	}
}

func TestParseValue(t *testing.T) {
	cases := map[any]Value{
		float64(0): Low,
		float64(1): High,
		"0":        Low,
		"1":        High,
		"z":        HighZ,
	}
	for in, want := range cases {
		got, err := ParseValue(in)
		if err != nil || got != want {
			t.Fatalf("ParseValue(%v) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseValue("bogus"); err == nil {
		t.Fatal("expected error for invalid value")
	}
}
