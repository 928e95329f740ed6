package model

import "testing"

func TestPositionInRange(t *testing.T) {
	p := Position{TickLower: -600, TickUpper: 600}

	cases := []struct {
		tick int
		want bool
	}{
		{0, true},
		{-600, true},
		{600, true},
		{-601, false},
		{601, false},
	}
	for _, tc := range cases {
		if got := p.InRange(tc.tick); got != tc.want {
			t.Fatalf("InRange(%d) = %v, want %v", tc.tick, got, tc.want)
		}
	}
}
