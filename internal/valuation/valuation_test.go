package valuation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
)

type testPrices map[string]*big.Rat

func (p testPrices) Price(_ context.Context, asset string) (*big.Rat, error) {
	r, ok := p[asset]
	if !ok {
		return nil, errors.New("no price")
	}
	return r, nil
}

var testPool = model.Pool{
	AssetX:    "xcoin",
	AssetY:    "ycoin",
	DecimalsX: 6,
	DecimalsY: 18,
}

func TestTakeSumsBothSides(t *testing.T) {
	prices := testPrices{"xcoin": big.NewRat(2, 1), "ycoin": big.NewRat(3, 1)}

	snap, err := Take(context.Background(), prices, testPool,
		big.NewInt(5_000_000),
		new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 5 X at $2 plus 1 Y at $3.
	want := big.NewRat(13, 1)
	if snap.TotalUSD.Cmp(want) != 0 {
		t.Fatalf("total %s, want %s", snap.TotalUSD.RatString(), want.RatString())
	}
}

func TestTakeMissingPrice(t *testing.T) {
	prices := testPrices{"xcoin": big.NewRat(1, 1)}
	if _, err := Take(context.Background(), prices, testPool, big.NewInt(1), big.NewInt(1)); err == nil {
		t.Fatalf("expected error for missing price")
	}
}

func TestDriftSigned(t *testing.T) {
	before := Snapshot{TotalUSD: big.NewRat(100, 1)}
	after := Snapshot{TotalUSD: big.NewRat(99, 1)}

	drift, err := Drift(before, after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if drift.Cmp(big.NewRat(-1, 100)) != 0 {
		t.Fatalf("drift %s, want -1/100", drift.RatString())
	}
}

func TestCheckDriftBoundary(t *testing.T) {
	before := Snapshot{TotalUSD: big.NewRat(100, 1)}
	limit := big.NewRat(1, 100)

	if err := CheckDrift(before, Snapshot{TotalUSD: big.NewRat(9950, 100)}, limit); err != nil {
		t.Fatalf("0.5%% drift under 1%% limit: %v", err)
	}

	err := CheckDrift(before, Snapshot{TotalUSD: big.NewRat(99, 1)}, limit)
	if !errors.Is(err, ErrValueDriftExceeded) {
		t.Fatalf("drift at limit should flag, got %v", err)
	}

	// Gains are flagged too: drift in either direction means the plan's
	// accounting was wrong.
	err = CheckDrift(before, Snapshot{TotalUSD: big.NewRat(102, 1)}, limit)
	if !errors.Is(err, ErrValueDriftExceeded) {
		t.Fatalf("positive drift over limit should flag, got %v", err)
	}
}

func TestCheckDriftNilLimit(t *testing.T) {
	before := Snapshot{TotalUSD: big.NewRat(100, 1)}
	after := Snapshot{TotalUSD: big.NewRat(50, 1)}
	if err := CheckDrift(before, after, nil); err != nil {
		t.Fatalf("nil limit disables the check: %v", err)
	}
}
