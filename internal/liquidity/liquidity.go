// Package liquidity converts between a position's liquidity value and the
// token amounts it represents over a square-root price range. All arithmetic
// is exact big.Int; divisions round down so a round trip never over-claims
// liquidity.
package liquidity

import (
	"errors"
	"math/big"
)

// Q96 is the fixed-point scale of square-root prices.
var Q96 = new(big.Int).Lsh(big.NewInt(1), 96)

var ErrInvalidPriceRange = errors.New("invalid price range")

// AmountsForLiquidity returns the amounts of asset X and asset Y represented
// by liq over [sqrtLower, sqrtUpper] at the current price sqrtPrice.
// Below the range the position is all X, above it all Y.
func AmountsForLiquidity(sqrtPrice, sqrtLower, sqrtUpper, liq *big.Int) (*big.Int, *big.Int, error) {
	if err := checkRange(sqrtPrice, sqrtLower, sqrtUpper); err != nil {
		return nil, nil, err
	}
	if liq == nil || liq.Sign() < 0 {
		return nil, nil, errors.New("liquidity must be non-negative")
	}

	switch {
	case sqrtPrice.Cmp(sqrtLower) <= 0:
		return amountXDelta(sqrtLower, sqrtUpper, liq), big.NewInt(0), nil
	case sqrtPrice.Cmp(sqrtUpper) >= 0:
		return big.NewInt(0), amountYDelta(sqrtLower, sqrtUpper, liq), nil
	default:
		return amountXDelta(sqrtPrice, sqrtUpper, liq), amountYDelta(sqrtLower, sqrtPrice, liq), nil
	}
}

// LiquidityForAmounts returns the largest liquidity value whose amounts at
// the current price do not exceed amountX and amountY.
func LiquidityForAmounts(sqrtPrice, sqrtLower, sqrtUpper, amountX, amountY *big.Int) (*big.Int, error) {
	if err := checkRange(sqrtPrice, sqrtLower, sqrtUpper); err != nil {
		return nil, err
	}
	if amountX == nil || amountY == nil || amountX.Sign() < 0 || amountY.Sign() < 0 {
		return nil, errors.New("amounts must be non-negative")
	}

	switch {
	case sqrtPrice.Cmp(sqrtLower) <= 0:
		return liquidityFromX(sqrtLower, sqrtUpper, amountX), nil
	case sqrtPrice.Cmp(sqrtUpper) >= 0:
		return liquidityFromY(sqrtLower, sqrtUpper, amountY), nil
	default:
		lx := liquidityFromX(sqrtPrice, sqrtUpper, amountX)
		ly := liquidityFromY(sqrtLower, sqrtPrice, amountY)
		if lx.Cmp(ly) < 0 {
			return lx, nil
		}
		return ly, nil
	}
}

// amountXDelta computes liq<<96 * (sqrtB-sqrtA) / sqrtB / sqrtA, rounded down.
func amountXDelta(sqrtA, sqrtB, liq *big.Int) *big.Int {
	numerator := new(big.Int).Lsh(liq, 96)
	numerator.Mul(numerator, new(big.Int).Sub(sqrtB, sqrtA))
	numerator.Div(numerator, sqrtB)
	return numerator.Div(numerator, sqrtA)
}

// amountYDelta computes liq * (sqrtB-sqrtA) / Q96, rounded down.
func amountYDelta(sqrtA, sqrtB, liq *big.Int) *big.Int {
	amount := new(big.Int).Sub(sqrtB, sqrtA)
	amount.Mul(amount, liq)
	return amount.Div(amount, Q96)
}

func liquidityFromX(sqrtA, sqrtB, amountX *big.Int) *big.Int {
	intermediate := new(big.Int).Mul(sqrtA, sqrtB)
	intermediate.Div(intermediate, Q96)
	liq := new(big.Int).Mul(amountX, intermediate)
	return liq.Div(liq, new(big.Int).Sub(sqrtB, sqrtA))
}

func liquidityFromY(sqrtA, sqrtB, amountY *big.Int) *big.Int {
	liq := new(big.Int).Mul(amountY, Q96)
	return liq.Div(liq, new(big.Int).Sub(sqrtB, sqrtA))
}

func checkRange(sqrtPrice, sqrtLower, sqrtUpper *big.Int) error {
	if sqrtPrice == nil || sqrtLower == nil || sqrtUpper == nil {
		return ErrInvalidPriceRange
	}
	if sqrtLower.Sign() <= 0 || sqrtLower.Cmp(sqrtUpper) >= 0 {
		return ErrInvalidPriceRange
	}
	if sqrtPrice.Sign() <= 0 {
		return ErrInvalidPriceRange
	}
	return nil
}
