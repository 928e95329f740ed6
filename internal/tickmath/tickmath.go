// Package tickmath converts between tick indices and fixed-point square-root
// prices. price = 1.0001^tick; the square root is carried as a Q64.96 value.
package tickmath

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the lowest tick accepted by TickToSqrtPrice.
	MinTick = -887272
	// MaxTick is the highest tick accepted by TickToSqrtPrice.
	MaxTick = 887272
)

var (
	// MinSqrtPrice is TickToSqrtPrice(MinTick).
	MinSqrtPrice, _ = new(big.Int).SetString("4295128739", 10)
	// MaxSqrtPrice is TickToSqrtPrice(MaxTick).
	MaxSqrtPrice, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")
)

var (
	maxUint256 = new(uint256.Int).Sub(new(uint256.Int), uint256.NewInt(1))
	roundMask  = uint256.NewInt(0xffffffff)

	// Per-bit ratio constants in Q128.128: index 0 is sqrt(1.0001), index 1 is
	// one, index i>=2 is sqrt(1.0001)^(2^(i-1)).
	ratioConstants = [21]*uint256.Int{
		uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
		uint256.MustFromHex("0x100000000000000000000000000000000"),
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}
)

// TickToSqrtPrice returns sqrt(1.0001^tick) as a Q64.96 value. The conversion
// is exact and total over [MinTick, MaxTick]: each set bit of the absolute
// tick multiplies the accumulator by its precomputed ratio constant, and
// negative ticks invert the result.
func TickToSqrtPrice(tick int) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, ErrTickOutOfBounds
	}

	absTick := tick
	if tick < 0 {
		absTick = -tick
	}

	ratio := new(uint256.Int)
	if absTick&1 != 0 {
		ratio.Set(ratioConstants[0])
	} else {
		ratio.Set(ratioConstants[1])
	}
	for i := 1; i < 20; i++ {
		if absTick&(1<<i) != 0 {
			ratio.Mul(ratio, ratioConstants[i+1])
			ratio.Rsh(ratio, 128)
		}
	}

	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	// Q128.128 -> Q64.96, rounding up so the round trip through
	// SqrtPriceToTick stays within one tick of the input.
	rem := new(uint256.Int).And(ratio, roundMask)
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}

	return ratio.ToBig(), nil
}

// SqrtPriceToTick returns the greatest tick whose exact square-root price is
// at most sqrtPriceX96. The result is approximate near tick boundaries:
// callers needing an exact tick must re-verify through TickToSqrtPrice.
func SqrtPriceToTick(sqrtPriceX96 *big.Int) (int, error) {
	if sqrtPriceX96 == nil || sqrtPriceX96.Cmp(MinSqrtPrice) < 0 || sqrtPriceX96.Cmp(MaxSqrtPrice) > 0 {
		return 0, ErrSqrtPriceOutOfBounds
	}

	low, high := MinTick, MaxTick
	tick := MinTick
	for low <= high {
		mid := low + (high-low)/2
		price, err := TickToSqrtPrice(mid)
		if err != nil {
			return 0, err
		}
		if price.Cmp(sqrtPriceX96) <= 0 {
			tick = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	return tick, nil
}

// RoundToSpacing rounds tick to the nearest multiple of spacing, with halves
// rounding toward positive infinity.
func RoundToSpacing(tick, spacing int) int {
	if spacing <= 0 {
		return tick
	}
	return floorDiv(2*tick+spacing, 2*spacing) * spacing
}

// AlignedToSpacing reports whether tick is a multiple of spacing.
func AlignedToSpacing(tick, spacing int) bool {
	return spacing > 0 && tick%spacing == 0
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
