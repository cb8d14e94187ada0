package clockid

import "testing"

func TestNextSeqMonotonic(t *testing.T) {
	c := New()
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		seq := c.NextSeq()
		if seq <= prev {
			t.Fatalf("seq did not increase: prev=%d got=%d", prev, seq)
		}
		prev = seq
	}
	if c.LastSeq() != prev {
		t.Fatalf("LastSeq() = %d, want %d", c.LastSeq(), prev)
	}
}
