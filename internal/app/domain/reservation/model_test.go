package reservation

import (
	"testing"
	"time"
)

func TestBeforeOrdersByRequestTimeThenSequence(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	earlier := Reservation{RequestedAt: base, Sequence: 5}
	later := Reservation{RequestedAt: base.Add(time.Minute), Sequence: 1}
	if !earlier.Before(later) {
		t.Fatal("earlier request wins regardless of sequence")
	}

	first := Reservation{RequestedAt: base, Sequence: 1}
	second := Reservation{RequestedAt: base, Sequence: 2}
	if !first.Before(second) || second.Before(first) {
		t.Fatal("identical timestamps fall back to insertion order")
	}
}

func TestEstimatedWaitDays(t *testing.T) {
	tests := []struct {
		position, avgDays, copies, want int
	}{
		{1, 14, 1, 0},
		{2, 14, 1, 14},
		{3, 14, 1, 28},
		{3, 14, 2, 14},
		{4, 14, 0, 42},
	}
	for _, tc := range tests {
		if got := EstimatedWaitDays(tc.position, tc.avgDays, tc.copies); got != tc.want {
			t.Errorf("EstimatedWaitDays(%d, %d, %d) = %d, want %d",
				tc.position, tc.avgDays, tc.copies, got, tc.want)
		}
	}
}
