// Package rangecalc computes the candidate tick range a rebalance should
// move a position into: width multiplier*tickSpacing, centered on the
// current tick and aligned to the spacing grid.
package rangecalc

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/tickmath"
)

var ErrInvalidRange = errors.New("invalid tick range")

// Params carries the inputs of one range calculation. BufferPct and
// TargetPct are fractions of the base range's price span; a side is widened
// by one spacing unit when the current price sits closer to that side's edge
// than both thresholds. Nil or zero thresholds disable widening.
type Params struct {
	CurrentTick     int
	SqrtPriceX96    *big.Int
	TickSpacing     int
	WidthMultiplier int
	BufferPct       *big.Rat
	TargetPct       *big.Rat
}

// Range is a tick-spacing aligned tick range.
type Range struct {
	Lower int
	Upper int
}

// Contains reports whether tick is inside the range, inclusive on both ends.
func (r Range) Contains(tick int) bool {
	return r.Lower <= tick && tick <= r.Upper
}

// Width returns the range width in ticks.
func (r Range) Width() int {
	return r.Upper - r.Lower
}

// Calculate builds the candidate range. Containment of the current tick is
// checked after rounding, since rounding alone can violate it.
func Calculate(p Params) (Range, error) {
	if p.TickSpacing <= 0 {
		return Range{}, fmt.Errorf("%w: tick spacing %d", ErrInvalidRange, p.TickSpacing)
	}
	if p.WidthMultiplier <= 0 {
		return Range{}, fmt.Errorf("%w: width multiplier %d", ErrInvalidRange, p.WidthMultiplier)
	}
	if p.SqrtPriceX96 == nil || p.SqrtPriceX96.Sign() <= 0 {
		return Range{}, fmt.Errorf("%w: missing sqrt price", ErrInvalidRange)
	}

	width := p.WidthMultiplier * p.TickSpacing
	lower := tickmath.RoundToSpacing(p.CurrentTick-width/2, p.TickSpacing)
	upper := lower + width

	// Rounding can pin the lower bound to the current tick while the pool's
	// true price still sits below that tick's boundary; shift the window down
	// one spacing unit so the range contains the price.
	if lower == p.CurrentTick {
		boundary, err := tickmath.TickToSqrtPrice(lower)
		if err != nil {
			return Range{}, fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		if p.SqrtPriceX96.Cmp(boundary) < 0 {
			lower -= p.TickSpacing
			upper -= p.TickSpacing
		}
	}

	lower, upper, err := widen(p, lower, upper)
	if err != nil {
		return Range{}, err
	}

	if lower >= upper {
		return Range{}, fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidRange, lower, upper)
	}
	if p.CurrentTick < lower || p.CurrentTick > upper {
		return Range{}, fmt.Errorf("%w: tick %d outside [%d, %d]", ErrInvalidRange, p.CurrentTick, lower, upper)
	}
	if !tickmath.AlignedToSpacing(lower, p.TickSpacing) || !tickmath.AlignedToSpacing(upper, p.TickSpacing) {
		return Range{}, fmt.Errorf("%w: bounds not aligned to spacing %d", ErrInvalidRange, p.TickSpacing)
	}
	if lower < tickmath.MinTick || upper > tickmath.MaxTick {
		return Range{}, fmt.Errorf("%w: bounds exceed tick domain", ErrInvalidRange)
	}

	return Range{Lower: lower, Upper: upper}, nil
}

// widen applies the buffer layer: one extra spacing unit on a side whose
// edge the price has drifted too close to.
func widen(p Params, lower, upper int) (int, int, error) {
	if p.BufferPct == nil || p.TargetPct == nil || p.BufferPct.Sign() <= 0 || p.TargetPct.Sign() <= 0 {
		return lower, upper, nil
	}

	sqrtLower, err := tickmath.TickToSqrtPrice(lower)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	sqrtUpper, err := tickmath.TickToSqrtPrice(upper)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}

	span := new(big.Int).Sub(sqrtUpper, sqrtLower)
	if span.Sign() <= 0 {
		return lower, upper, nil
	}

	lowGap := new(big.Rat).SetFrac(new(big.Int).Sub(p.SqrtPriceX96, sqrtLower), span)
	highGap := new(big.Rat).SetFrac(new(big.Int).Sub(sqrtUpper, p.SqrtPriceX96), span)

	if lowGap.Cmp(p.BufferPct) < 0 && lowGap.Cmp(p.TargetPct) < 0 {
		lower -= p.TickSpacing
	}
	if highGap.Cmp(p.BufferPct) < 0 && highGap.Cmp(p.TargetPct) < 0 {
		upper += p.TickSpacing
	}

	return lower, upper, nil
}
