// Package valuation snapshots the USD value of a pair of asset amounts and
// audits the drift between a before and after snapshot. It runs post-hoc:
// exact post-swap amounts are only known after submission, so drift is an
// audit, not an execution gate.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/provider"
)

var ErrValueDriftExceeded = errors.New("value drift exceeded")

// Snapshot is the USD value of a two-asset holding at one point in time.
type Snapshot struct {
	AmountX  *big.Int
	AmountY  *big.Int
	TotalUSD *big.Rat
}

// Take prices both amounts through the provider and returns the snapshot.
func Take(ctx context.Context, prices provider.PriceProvider, pool model.Pool, amountX, amountY *big.Int) (Snapshot, error) {
	priceX, err := prices.Price(ctx, pool.AssetX)
	if err != nil {
		return Snapshot{}, fmt.Errorf("price %s: %w", pool.AssetX, err)
	}
	priceY, err := prices.Price(ctx, pool.AssetY)
	if err != nil {
		return Snapshot{}, fmt.Errorf("price %s: %w", pool.AssetY, err)
	}

	total := new(big.Rat).Add(
		decimalValue(amountX, priceX, pool.DecimalsX),
		decimalValue(amountY, priceY, pool.DecimalsY),
	)
	return Snapshot{
		AmountX:  new(big.Int).Set(amountX),
		AmountY:  new(big.Int).Set(amountY),
		TotalUSD: total,
	}, nil
}

// Drift returns the signed relative change from before to after.
func Drift(before, after Snapshot) (*big.Rat, error) {
	if before.TotalUSD == nil || after.TotalUSD == nil {
		return nil, errors.New("incomplete snapshot")
	}
	if before.TotalUSD.Sign() <= 0 {
		return nil, errors.New("before snapshot has no value")
	}
	drift := new(big.Rat).Sub(after.TotalUSD, before.TotalUSD)
	return drift.Quo(drift, before.TotalUSD), nil
}

// CheckDrift flags ErrValueDriftExceeded when |drift| >= maxDrift.
func CheckDrift(before, after Snapshot, maxDrift *big.Rat) error {
	drift, err := Drift(before, after)
	if err != nil {
		return err
	}
	if maxDrift == nil {
		return nil
	}
	if new(big.Rat).Abs(drift).Cmp(maxDrift) >= 0 {
		return fmt.Errorf("%w: drift %s, limit %s", ErrValueDriftExceeded, drift.FloatString(6), maxDrift.RatString())
	}
	return nil
}

func decimalValue(amount *big.Int, price *big.Rat, decimals uint8) *big.Rat {
	if amount == nil {
		return new(big.Rat)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value := new(big.Rat).SetFrac(amount, scale)
	return value.Mul(value, price)
}
