package guard

import (
	"math/big"
	"testing"
)

func TestSlippagePassesAtFloor(t *testing.T) {
	s := Slippage{Tolerance: big.NewRat(1, 100)}
	res := s.Check(big.NewInt(1000), big.NewInt(990))
	if !res.OK {
		t.Fatalf("990 of 1000 at 1%% should pass: %s", res.Reason)
	}
}

func TestSlippageRejectsBelowFloor(t *testing.T) {
	s := Slippage{Tolerance: big.NewRat(1, 100)}
	res := s.Check(big.NewInt(1000), big.NewInt(989))
	if res.OK {
		t.Fatalf("989 of 1000 at 1%% should reject")
	}
}

func TestSlippageOutputAboveExpectationAlwaysPasses(t *testing.T) {
	s := Slippage{}
	res := s.Check(big.NewInt(1000), big.NewInt(1500))
	if !res.OK {
		t.Fatalf("surplus output should pass: %s", res.Reason)
	}
}

func TestSlippageZeroToleranceExactMatch(t *testing.T) {
	s := Slippage{}
	if res := s.Check(big.NewInt(1000), big.NewInt(1000)); !res.OK {
		t.Fatalf("exact match should pass: %s", res.Reason)
	}
	if res := s.Check(big.NewInt(1000), big.NewInt(999)); res.OK {
		t.Fatalf("any shortfall should reject at zero tolerance")
	}
}

func TestSlippageMissingAmounts(t *testing.T) {
	s := Slippage{Tolerance: big.NewRat(1, 100)}
	if res := s.Check(nil, big.NewInt(1)); res.OK {
		t.Fatalf("nil expected amount should reject")
	}
	if res := s.Check(big.NewInt(1), nil); res.OK {
		t.Fatalf("nil actual amount should reject")
	}
}
