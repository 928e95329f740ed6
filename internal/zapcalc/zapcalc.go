// Package zapcalc computes how much of a single-sided surplus must be
// converted so the remaining balances match the deposit ratio of a target
// tick range. The ratio is expressed in USD terms because the two assets
// carry different decimals.
package zapcalc

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/liquidity"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/provider"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/tickmath"
)

var ErrInvalidZapAmount = errors.New("invalid zap amount")

// Side names the asset holding the surplus.
type Side int

const (
	SideX Side = iota
	SideY
)

// Input describes one conversion calculation.
type Input struct {
	Pool        model.Pool
	TargetLower int
	TargetUpper int
	Surplus     *big.Int
	Side        Side

	// Opposite is the amount already held on the non-surplus side, such as
	// collected fees. It reduces the conversion; nil means that side starts
	// empty.
	Opposite *big.Int
}

// probeLiquidity is the liquidity value the target ratio is sampled at.
// Amount deltas are linear in liquidity, so any large probe works; a big one
// keeps integer truncation negligible.
var probeLiquidity = new(big.Int).Lsh(big.NewInt(1), 128)

const feeDenominator = 1_000_000

// ConversionAmount returns the portion of the surplus to convert. Zero means
// the target range needs only the surplus side. The pool fee is applied as
// conversion friction, slightly under-converting so rounding never strands
// dust on the acquired side.
func ConversionAmount(ctx context.Context, in Input, prices provider.PriceProvider) (*big.Int, error) {
	if in.Surplus == nil || in.Surplus.Sign() <= 0 {
		return nil, fmt.Errorf("%w: surplus must be positive", ErrInvalidZapAmount)
	}

	sqrtLower, err := tickmath.TickToSqrtPrice(in.TargetLower)
	if err != nil {
		return nil, fmt.Errorf("target lower: %w", err)
	}
	sqrtUpper, err := tickmath.TickToSqrtPrice(in.TargetUpper)
	if err != nil {
		return nil, fmt.Errorf("target upper: %w", err)
	}

	needX, needY, err := liquidity.AmountsForLiquidity(in.Pool.SqrtPriceX96, sqrtLower, sqrtUpper, probeLiquidity)
	if err != nil {
		return nil, fmt.Errorf("target ratio: %w", err)
	}

	priceX, err := prices.Price(ctx, in.Pool.AssetX)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", in.Pool.AssetX, err)
	}
	priceY, err := prices.Price(ctx, in.Pool.AssetY)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", in.Pool.AssetY, err)
	}

	valueX := usdValue(needX, priceX, in.Pool.DecimalsX)
	valueY := usdValue(needY, priceY, in.Pool.DecimalsY)

	// Value share required on the side opposite the surplus, and the prices
	// and decimals of the two sides of the conversion.
	var otherNeed *big.Rat
	var priceS, priceO *big.Rat
	var decS, decO uint8
	switch in.Side {
	case SideX:
		otherNeed = valueY
		priceS, decS = priceX, in.Pool.DecimalsX
		priceO, decO = priceY, in.Pool.DecimalsY
	case SideY:
		otherNeed = valueX
		priceS, decS = priceY, in.Pool.DecimalsY
		priceO, decO = priceX, in.Pool.DecimalsX
	default:
		return nil, fmt.Errorf("%w: unknown side %d", ErrInvalidZapAmount, in.Side)
	}

	total := new(big.Rat).Add(valueX, valueY)
	if total.Sign() <= 0 {
		return nil, fmt.Errorf("%w: target range has no value requirement", ErrInvalidZapAmount)
	}
	if otherNeed.Sign() == 0 {
		// Already balanced: the target range wants only the surplus asset.
		return big.NewInt(0), nil
	}

	otherShare := new(big.Rat).Quo(otherNeed, total)
	surplusShare := new(big.Rat).Sub(big.NewRat(1, 1), otherShare)

	surplusVal := usdValue(in.Surplus, priceS, decS)
	oppositeVal := new(big.Rat)
	if in.Opposite != nil && in.Opposite.Sign() > 0 {
		oppositeVal = usdValue(in.Opposite, priceO, decO)
	}

	// USD value that must move across so the combined holdings land on the
	// target split. What the opposite side already holds counts toward its
	// share.
	excess := new(big.Rat).Mul(otherShare, surplusVal)
	excess.Sub(excess, new(big.Rat).Mul(surplusShare, oppositeVal))
	if excess.Sign() <= 0 {
		// The opposite side already covers its share.
		return big.NewInt(0), nil
	}

	scaleS := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decS)), nil)
	amount := new(big.Rat).Quo(excess, priceS)
	amount.Mul(amount, new(big.Rat).SetInt(scaleS))

	friction := big.NewRat(int64(feeDenominator-in.Pool.Fee), feeDenominator)
	amount.Mul(amount, friction)

	converted := ratFloor(amount)
	if converted.Sign() <= 0 {
		return nil, fmt.Errorf("%w: computed conversion %s", ErrInvalidZapAmount, converted)
	}
	return converted, nil
}

func usdValue(amount *big.Int, price *big.Rat, decimals uint8) *big.Rat {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value := new(big.Rat).SetFrac(amount, scale)
	return value.Mul(value, price)
}

func ratFloor(r *big.Rat) *big.Int {
	out := new(big.Int).Quo(r.Num(), r.Denom())
	if r.Sign() < 0 && new(big.Int).Rem(r.Num(), r.Denom()).Sign() != 0 {
		out.Sub(out, big.NewInt(1))
	}
	return out
}
