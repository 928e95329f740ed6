package guard

import (
	"context"
	"fmt"
	"math/big"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/provider"
)

// PriceImpact rejects a planned conversion whose USD value loss exceeds the
// configured threshold.
type PriceImpact struct {
	// Threshold is the maximum acceptable loss magnitude as a fraction.
	Threshold *big.Rat
	Prices    provider.PriceProvider
}

// Leg describes one side of a conversion.
type Leg struct {
	Asset    string
	Decimals uint8
	Amount   *big.Int
}

// Check converts both legs to USD and computes (valueOut - valueIn)/valueIn.
// It fails when that signed percentage is more negative than -Threshold.
// A price lookup failure is an evaluation error, not a rejection.
func (g PriceImpact) Check(ctx context.Context, in, out Leg) (Result, error) {
	valueIn, err := g.legValue(ctx, in)
	if err != nil {
		return Result{}, err
	}
	valueOut, err := g.legValue(ctx, out)
	if err != nil {
		return Result{}, err
	}
	if valueIn.Sign() <= 0 {
		return reject("price impact: input value is zero"), nil
	}

	impact := new(big.Rat).Sub(valueOut, valueIn)
	impact.Quo(impact, valueIn)

	threshold := g.Threshold
	if threshold == nil {
		threshold = new(big.Rat)
	}
	limit := new(big.Rat).Neg(threshold)
	if impact.Cmp(limit) < 0 {
		return reject("price impact: %s below limit -%s", impact.FloatString(6), threshold.RatString()), nil
	}
	return pass("price impact: %s within limit", impact.FloatString(6)), nil
}

func (g PriceImpact) legValue(ctx context.Context, leg Leg) (*big.Rat, error) {
	if leg.Amount == nil || leg.Amount.Sign() < 0 {
		return nil, fmt.Errorf("price impact: invalid amount for %s", leg.Asset)
	}
	price, err := g.Prices.Price(ctx, leg.Asset)
	if err != nil {
		return nil, fmt.Errorf("price impact: %w", err)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(leg.Decimals)), nil)
	value := new(big.Rat).SetFrac(leg.Amount, scale)
	return value.Mul(value, price), nil
}
