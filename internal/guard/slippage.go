package guard

import "math/big"

// Slippage rejects an execution whose realized output falls further below
// the expected output than the configured tolerance.
type Slippage struct {
	// Tolerance is the maximum acceptable shortfall as a fraction, e.g. 1/100.
	Tolerance *big.Rat
}

// Check passes when actualOut >= expectedOut * (1 - tolerance). Output at or
// above expectation always passes.
func (s Slippage) Check(expectedOut, actualOut *big.Int) Result {
	if expectedOut == nil || actualOut == nil {
		return reject("slippage: missing amounts")
	}
	if actualOut.Cmp(expectedOut) >= 0 {
		return pass("slippage: output %s meets expectation %s", actualOut, expectedOut)
	}

	tolerance := s.Tolerance
	if tolerance == nil {
		tolerance = new(big.Rat)
	}

	floor := new(big.Rat).Sub(big.NewRat(1, 1), tolerance)
	floor.Mul(floor, new(big.Rat).SetInt(expectedOut))

	actual := new(big.Rat).SetInt(actualOut)
	if actual.Cmp(floor) >= 0 {
		return pass("slippage: output %s within tolerance of expectation %s", actualOut, expectedOut)
	}
	return reject("slippage: output %s below floor %s (expected %s, tolerance %s)",
		actualOut, floor.FloatString(0), expectedOut, tolerance.RatString())
}
