package zapcalc

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/tickmath"
)

type staticPrices map[string]*big.Rat

func (p staticPrices) Price(_ context.Context, asset string) (*big.Rat, error) {
	r, ok := p[asset]
	if !ok {
		return nil, errors.New("no price")
	}
	return r, nil
}

func testPool(t *testing.T, currentTick int) model.Pool {
	t.Helper()
	sqrt, err := tickmath.TickToSqrtPrice(currentTick)
	if err != nil {
		t.Fatalf("tick %d: %v", currentTick, err)
	}
	return model.Pool{
		ID:           "pool",
		AssetX:       "xcoin",
		AssetY:       "ycoin",
		DecimalsX:    6,
		DecimalsY:    6,
		Fee:          3000,
		TickSpacing:  60,
		CurrentTick:  currentTick,
		SqrtPriceX96: sqrt,
	}
}

var parityPrices = staticPrices{
	"xcoin": big.NewRat(1, 1),
	"ycoin": big.NewRat(1, 1),
}

func TestConversionSymmetricRangeConvertsNearHalf(t *testing.T) {
	pool := testPool(t, 0)
	surplus := big.NewInt(1_000_000_000)

	got, err := ConversionAmount(context.Background(), Input{
		Pool:        pool,
		TargetLower: -600,
		TargetUpper: 600,
		Surplus:     surplus,
		Side:        SideX,
	}, parityPrices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Equal prices and a symmetric range want roughly half the surplus,
	// reduced by the 0.3% fee friction.
	lowBound := big.NewInt(490_000_000)
	highBound := big.NewInt(500_000_000)
	if got.Cmp(lowBound) < 0 || got.Cmp(highBound) > 0 {
		t.Fatalf("conversion %s outside [%s, %s]", got, lowBound, highBound)
	}
}

func TestConversionZeroWhenRangeWantsOnlySurplusSide(t *testing.T) {
	// Price below the target range: the position is all X, so an X surplus
	// needs no conversion at all.
	pool := testPool(t, -1200)

	got, err := ConversionAmount(context.Background(), Input{
		Pool:        pool,
		TargetLower: -600,
		TargetUpper: 600,
		Surplus:     big.NewInt(1_000_000),
		Side:        SideX,
	}, parityPrices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("expected zero conversion, got %s", got)
	}
}

func TestConversionErrorWhenNeededAmountVanishes(t *testing.T) {
	// Price below the range with a Y surplus: everything must convert, but a
	// one-unit surplus times friction floors to zero.
	pool := testPool(t, -1200)

	_, err := ConversionAmount(context.Background(), Input{
		Pool:        pool,
		TargetLower: -600,
		TargetUpper: 600,
		Surplus:     big.NewInt(1),
		Side:        SideY,
	}, parityPrices)
	if !errors.Is(err, ErrInvalidZapAmount) {
		t.Fatalf("expected ErrInvalidZapAmount, got %v", err)
	}
}

func TestConversionCreditsExistingOppositeBalance(t *testing.T) {
	pool := testPool(t, 0)

	got, err := ConversionAmount(context.Background(), Input{
		Pool:        pool,
		TargetLower: -600,
		TargetUpper: 600,
		Surplus:     big.NewInt(1_000_000_000),
		Side:        SideX,
		Opposite:    big.NewInt(400_000_000),
	}, parityPrices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The symmetric range splits value half and half, so the conversion only
	// has to cover half the gap between the two sides: about 300M, minus the
	// 0.3% fee friction.
	lowBound := big.NewInt(295_000_000)
	highBound := big.NewInt(300_000_000)
	if got.Cmp(lowBound) < 0 || got.Cmp(highBound) > 0 {
		t.Fatalf("conversion %s outside [%s, %s]", got, lowBound, highBound)
	}
}

func TestConversionZeroWhenOppositeAlreadyCovered(t *testing.T) {
	pool := testPool(t, 0)

	got, err := ConversionAmount(context.Background(), Input{
		Pool:        pool,
		TargetLower: -600,
		TargetUpper: 600,
		Surplus:     big.NewInt(1_000_000_000),
		Side:        SideX,
		Opposite:    big.NewInt(2_000_000_000),
	}, parityPrices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("expected zero conversion when the other side is over-weighted, got %s", got)
	}
}

func TestConversionRejectsNonPositiveSurplus(t *testing.T) {
	pool := testPool(t, 0)

	_, err := ConversionAmount(context.Background(), Input{
		Pool:        pool,
		TargetLower: -600,
		TargetUpper: 600,
		Surplus:     big.NewInt(0),
		Side:        SideX,
	}, parityPrices)
	if !errors.Is(err, ErrInvalidZapAmount) {
		t.Fatalf("expected ErrInvalidZapAmount, got %v", err)
	}
}

func TestConversionScalesWithPrice(t *testing.T) {
	pool := testPool(t, 0)
	surplus := big.NewInt(1_000_000_000)
	prices := staticPrices{
		"xcoin": big.NewRat(1, 1),
		"ycoin": big.NewRat(3, 1),
	}

	got, err := ConversionAmount(context.Background(), Input{
		Pool:        pool,
		TargetLower: -600,
		TargetUpper: 600,
		Surplus:     surplus,
		Side:        SideX,
	}, prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Y side is three times as valuable, so its value share of the symmetric
	// range is about three quarters.
	lowBound := big.NewInt(700_000_000)
	highBound := big.NewInt(760_000_000)
	if got.Cmp(lowBound) < 0 || got.Cmp(highBound) > 0 {
		t.Fatalf("conversion %s outside [%s, %s]", got, lowBound, highBound)
	}
}
