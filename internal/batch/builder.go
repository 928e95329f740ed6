package batch

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/liquidity"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/provider"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/rangecalc"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/tickmath"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/zapcalc"
)

// Config bounds the builder's conversion decisions.
type Config struct {
	// SlippageTolerance sets minimum-output floors on swaps and withdrawals.
	SlippageTolerance *big.Rat
	// MinZapAmount suppresses conversions smaller than this raw amount.
	MinZapAmount *big.Int
	// RewardUSDThreshold skips reward streams whose accrued value is below it.
	RewardUSDThreshold *big.Rat
}

// Plan summarizes the economic intent of a built batch, for guard checks and
// the post-submission value audit.
type Plan struct {
	Target rangecalc.Range

	// Totals withdrawn from the old position, fees and pool-asset rewards
	// included.
	TotalX *big.Int
	TotalY *big.Int

	// Swap leg; SwapAmountIn is zero when no conversion happens.
	SwapSide          zapcalc.Side
	SwapAssetIn       string
	SwapAssetOut      string
	SwapDecimalsIn    uint8
	SwapDecimalsOut   uint8
	SwapAmountIn      *big.Int
	OracleExpectedOut *big.Int
	PoolExpectedOut   *big.Int
	MinSwapOut        *big.Int

	// Estimated holdings entering the new position.
	PostX        *big.Int
	PostY        *big.Int
	NewLiquidity *big.Int
}

// HasSwap reports whether the batch contains a conversion step.
func (p *Plan) HasSwap() bool {
	return p.SwapAmountIn != nil && p.SwapAmountIn.Sign() > 0
}

// Builder composes rebalance batches against one protocol's ChainOperations.
type Builder struct {
	ops    ChainOperations
	prices provider.PriceProvider
	cfg    Config
	logger *zap.Logger
}

// NewBuilder wires a builder. logger may be nil.
func NewBuilder(ops ChainOperations, prices provider.PriceProvider, cfg Config, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{ops: ops, prices: prices, cfg: cfg, logger: logger}
}

// BuildRebalance composes the full close-convert-reopen sequence into one
// atomic batch and proves handle conservation before returning it.
func (bd *Builder) BuildRebalance(ctx context.Context, pool model.Pool, pos model.Position, target rangecalc.Range) (*Batch, *Plan, error) {
	oldLower, err := tickmath.TickToSqrtPrice(pos.TickLower)
	if err != nil {
		return nil, nil, fmt.Errorf("old range lower: %w", err)
	}
	oldUpper, err := tickmath.TickToSqrtPrice(pos.TickUpper)
	if err != nil {
		return nil, nil, fmt.Errorf("old range upper: %w", err)
	}

	withdrawX, withdrawY, err := liquidity.AmountsForLiquidity(pool.SqrtPriceX96, oldLower, oldUpper, pos.Liquidity)
	if err != nil {
		return nil, nil, fmt.Errorf("withdraw amounts: %w", err)
	}

	b := New()
	minX := mulRatFloor(withdrawX, oneMinus(bd.cfg.SlippageTolerance))
	minY := mulRatFloor(withdrawY, oneMinus(bd.cfg.SlippageTolerance))
	hX, hY, err := bd.ops.RemoveLiquidity(b, pool, pos, pos.Liquidity, minX, minY)
	if err != nil {
		return nil, nil, fmt.Errorf("remove liquidity: %w", err)
	}

	fX, fY, err := bd.ops.CollectFees(b, pool, pos)
	if err != nil {
		return nil, nil, fmt.Errorf("collect fees: %w", err)
	}

	totalX := new(big.Int).Set(withdrawX)
	totalY := new(big.Int).Set(withdrawY)
	if pos.OwedFeesX != nil {
		totalX.Add(totalX, pos.OwedFeesX)
	}
	if pos.OwedFeesY != nil {
		totalY.Add(totalY, pos.OwedFeesY)
	}

	xHandles := validHandles(hX, fX)
	yHandles := validHandles(hY, fY)

	var otherHandles []Handle
	for _, reward := range pos.Rewards {
		if reward.Owed == nil || reward.Owed.Sign() <= 0 {
			continue
		}
		worth, err := bd.rewardWorthCollecting(ctx, reward)
		if err != nil {
			return nil, nil, err
		}
		if !worth {
			bd.logger.Debug("skip reward below threshold", zap.String("asset", reward.Asset), zap.String("owed", reward.Owed.String()))
			continue
		}
		h, err := bd.ops.CollectReward(b, pool, pos, reward)
		if err != nil {
			return nil, nil, fmt.Errorf("collect reward %s: %w", reward.Asset, err)
		}
		if !h.Valid() {
			continue
		}
		switch reward.Asset {
		case pool.AssetX:
			xHandles = append(xHandles, h)
			totalX.Add(totalX, reward.Owed)
		case pool.AssetY:
			yHandles = append(yHandles, h)
			totalY.Add(totalY, reward.Owed)
		default:
			otherHandles = append(otherHandles, h)
		}
	}

	handleX, err := bd.mergeAll(b, xHandles)
	if err != nil {
		return nil, nil, err
	}
	handleY, err := bd.mergeAll(b, yHandles)
	if err != nil {
		return nil, nil, err
	}

	if err := bd.ops.ClosePosition(b, pool, pos); err != nil {
		return nil, nil, fmt.Errorf("close position: %w", err)
	}

	plan := &Plan{
		Target: target,
		TotalX: new(big.Int).Set(totalX),
		TotalY: new(big.Int).Set(totalY),
		PostX:  new(big.Int).Set(totalX),
		PostY:  new(big.Int).Set(totalY),
	}

	handleX, handleY, err = bd.convertSurplus(ctx, b, pool, plan, handleX, handleY)
	if err != nil {
		return nil, nil, err
	}

	targetLower, err := tickmath.TickToSqrtPrice(target.Lower)
	if err != nil {
		return nil, nil, fmt.Errorf("target lower: %w", err)
	}
	targetUpper, err := tickmath.TickToSqrtPrice(target.Upper)
	if err != nil {
		return nil, nil, fmt.Errorf("target upper: %w", err)
	}
	newLiquidity, err := liquidity.LiquidityForAmounts(pool.SqrtPriceX96, targetLower, targetUpper, plan.PostX, plan.PostY)
	if err != nil {
		return nil, nil, fmt.Errorf("new liquidity: %w", err)
	}
	if newLiquidity.Sign() <= 0 {
		return nil, nil, fmt.Errorf("new position would hold no liquidity")
	}
	plan.NewLiquidity = newLiquidity

	ref, err := bd.ops.OpenPosition(b, pool, target.Lower, target.Upper)
	if err != nil {
		return nil, nil, fmt.Errorf("open position: %w", err)
	}
	if err := bd.ops.IncreaseLiquidity(b, pool, ref, newLiquidity, handleX, handleY); err != nil {
		return nil, nil, fmt.Errorf("add liquidity: %w", err)
	}

	for _, h := range otherHandles {
		if err := b.TransferAsset(h, pos.Owner); err != nil {
			return nil, nil, err
		}
	}
	if err := b.TransferPosition(ref, pos.Owner); err != nil {
		return nil, nil, err
	}

	if err := b.Validate(); err != nil {
		return nil, nil, err
	}
	return b, plan, nil
}

// convertSurplus runs the zap step: it picks the value-dominant side as the
// surplus, asks the zap calculator for the portion to convert net of what
// the other side already holds, and emits the swap when that portion clears
// the minimum threshold.
func (bd *Builder) convertSurplus(ctx context.Context, b *Batch, pool model.Pool, plan *Plan, handleX, handleY Handle) (Handle, Handle, error) {
	priceX, err := bd.prices.Price(ctx, pool.AssetX)
	if err != nil {
		return NoHandle, NoHandle, fmt.Errorf("price %s: %w", pool.AssetX, err)
	}
	priceY, err := bd.prices.Price(ctx, pool.AssetY)
	if err != nil {
		return NoHandle, NoHandle, fmt.Errorf("price %s: %w", pool.AssetY, err)
	}

	valueX := usdValue(plan.TotalX, priceX, pool.DecimalsX)
	valueY := usdValue(plan.TotalY, priceY, pool.DecimalsY)

	side := zapcalc.SideX
	surplus, opposite := plan.TotalX, plan.TotalY
	if valueY.Cmp(valueX) > 0 {
		side = zapcalc.SideY
		surplus, opposite = plan.TotalY, plan.TotalX
	}
	if surplus.Sign() <= 0 {
		return handleX, handleY, nil
	}

	amountIn, err := zapcalc.ConversionAmount(ctx, zapcalc.Input{
		Pool:        pool,
		TargetLower: plan.Target.Lower,
		TargetUpper: plan.Target.Upper,
		Surplus:     surplus,
		Side:        side,
		Opposite:    opposite,
	}, bd.prices)
	if err != nil {
		return NoHandle, NoHandle, err
	}
	if amountIn.Sign() == 0 {
		return handleX, handleY, nil
	}
	if bd.cfg.MinZapAmount != nil && amountIn.Cmp(bd.cfg.MinZapAmount) < 0 {
		bd.logger.Debug("skip conversion below minimum", zap.String("amount", amountIn.String()))
		return handleX, handleY, nil
	}

	plan.SwapSide = side
	plan.SwapAmountIn = amountIn
	in := handleX
	priceIn, priceOut := priceX, priceY
	if side == zapcalc.SideX {
		plan.SwapAssetIn, plan.SwapAssetOut = pool.AssetX, pool.AssetY
		plan.SwapDecimalsIn, plan.SwapDecimalsOut = pool.DecimalsX, pool.DecimalsY
	} else {
		in = handleY
		priceIn, priceOut = priceY, priceX
		plan.SwapAssetIn, plan.SwapAssetOut = pool.AssetY, pool.AssetX
		plan.SwapDecimalsIn, plan.SwapDecimalsOut = pool.DecimalsY, pool.DecimalsX
	}
	if !in.Valid() {
		return NoHandle, NoHandle, fmt.Errorf("%w: no handle on surplus side", ErrUnbalancedAssetHandle)
	}

	plan.OracleExpectedOut = oracleConvert(amountIn, priceIn, priceOut, plan.SwapDecimalsIn, plan.SwapDecimalsOut)
	feeFraction := big.NewRat(int64(1_000_000-pool.Fee), 1_000_000)
	plan.PoolExpectedOut = mulRatFloor(plan.OracleExpectedOut, feeFraction)
	plan.MinSwapOut = mulRatFloor(plan.PoolExpectedOut, oneMinus(bd.cfg.SlippageTolerance))

	out, change, err := bd.ops.Swap(b, pool, in, amountIn, plan.MinSwapOut)
	if err != nil {
		return NoHandle, NoHandle, fmt.Errorf("swap: %w", err)
	}

	if side == zapcalc.SideX {
		plan.PostX = new(big.Int).Sub(plan.TotalX, amountIn)
		plan.PostY = new(big.Int).Add(plan.TotalY, plan.PoolExpectedOut)
		handleX = change
		if handleY, err = bd.joinHandles(b, handleY, out); err != nil {
			return NoHandle, NoHandle, err
		}
	} else {
		plan.PostY = new(big.Int).Sub(plan.TotalY, amountIn)
		plan.PostX = new(big.Int).Add(plan.TotalX, plan.PoolExpectedOut)
		handleY = change
		if handleX, err = bd.joinHandles(b, handleX, out); err != nil {
			return NoHandle, NoHandle, err
		}
	}
	return handleX, handleY, nil
}

// joinHandles merges two possibly-empty handles of the same asset.
func (bd *Builder) joinHandles(b *Batch, a, c Handle) (Handle, error) {
	switch {
	case a.Valid() && c.Valid():
		return b.Merge([]Handle{a, c})
	case a.Valid():
		return a, nil
	default:
		return c, nil
	}
}

func (bd *Builder) mergeAll(b *Batch, handles []Handle) (Handle, error) {
	switch len(handles) {
	case 0:
		return NoHandle, nil
	case 1:
		return handles[0], nil
	default:
		return b.Merge(handles)
	}
}

func (bd *Builder) rewardWorthCollecting(ctx context.Context, reward model.RewardOwed) (bool, error) {
	if bd.cfg.RewardUSDThreshold == nil || bd.cfg.RewardUSDThreshold.Sign() <= 0 {
		return true, nil
	}
	price, err := bd.prices.Price(ctx, reward.Asset)
	if err != nil {
		return false, fmt.Errorf("price %s: %w", reward.Asset, err)
	}
	value := usdValue(reward.Owed, price, reward.Decimals)
	return value.Cmp(bd.cfg.RewardUSDThreshold) >= 0, nil
}

func validHandles(handles ...Handle) []Handle {
	out := make([]Handle, 0, len(handles))
	for _, h := range handles {
		if h.Valid() {
			out = append(out, h)
		}
	}
	return out
}

// oracleConvert converts amountIn of the input asset to output-asset raw
// units at oracle prices, fee-free.
func oracleConvert(amountIn *big.Int, priceIn, priceOut *big.Rat, decIn, decOut uint8) *big.Int {
	scaleIn := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decIn)), nil)
	scaleOut := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decOut)), nil)

	value := new(big.Rat).SetFrac(amountIn, scaleIn)
	value.Mul(value, priceIn)
	value.Quo(value, priceOut)
	value.Mul(value, new(big.Rat).SetInt(scaleOut))
	return new(big.Int).Quo(value.Num(), value.Denom())
}

func usdValue(amount *big.Int, price *big.Rat, decimals uint8) *big.Rat {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	value := new(big.Rat).SetFrac(amount, scale)
	return value.Mul(value, price)
}

func mulRatFloor(amount *big.Int, factor *big.Rat) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	product := new(big.Rat).Mul(new(big.Rat).SetInt(amount), factor)
	return new(big.Int).Quo(product.Num(), product.Denom())
}

func oneMinus(fraction *big.Rat) *big.Rat {
	if fraction == nil {
		return big.NewRat(1, 1)
	}
	return new(big.Rat).Sub(big.NewRat(1, 1), fraction)
}
