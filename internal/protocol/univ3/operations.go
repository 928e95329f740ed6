package univ3

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/batch"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/liquidity"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/tickmath"
)

// maxUint128 caps collect amounts, claiming everything owed.
var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Operations packs rebalance steps into calldata against one deployment's
// position manager, router, and optional reward distributor. It implements
// batch.ChainOperations.
//
// The calls inside a batch execute from the executor contract, so every
// recipient field is the executor itself; the final transfer operations hand
// assets and the new position back to the owner.
type Operations struct {
	PositionManager string
	Router          string
	Rewarder        string
	Executor        string
	Deadline        time.Duration

	now func() time.Time

	// Bounds of the position opened in the current batch, needed to size
	// the add-liquidity amounts. One position is opened per batch.
	openLower int
	openUpper int
}

// NewOperations wires an adapter. now may be nil.
func NewOperations(positionManager, router, rewarder, executor string, deadline time.Duration, now func() time.Time) *Operations {
	if now == nil {
		now = time.Now
	}
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	return &Operations{
		PositionManager: positionManager,
		Router:          router,
		Rewarder:        rewarder,
		Executor:        executor,
		Deadline:        deadline,
		now:             now,
	}
}

func (o *Operations) deadline() *big.Int {
	return big.NewInt(o.now().Add(o.Deadline).Unix())
}

func tokenID(pos model.Position) (*big.Int, error) {
	id, ok := new(big.Int).SetString(pos.ID, 10)
	if !ok {
		return nil, fmt.Errorf("position id %q is not a token id", pos.ID)
	}
	return id, nil
}

// RemoveLiquidity packs decreaseLiquidity over the position's full
// liquidity. A side the range holds nothing of yields NoHandle, which is
// the case for any out-of-range position.
func (o *Operations) RemoveLiquidity(b *batch.Batch, pool model.Pool, pos model.Position, liq, minX, minY *big.Int) (batch.Handle, batch.Handle, error) {
	id, err := tokenID(pos)
	if err != nil {
		return batch.NoHandle, batch.NoHandle, err
	}
	pm, err := PositionManagerABI()
	if err != nil {
		return batch.NoHandle, batch.NoHandle, err
	}

	lowerSqrt, err := tickmath.TickToSqrtPrice(pos.TickLower)
	if err != nil {
		return batch.NoHandle, batch.NoHandle, err
	}
	upperSqrt, err := tickmath.TickToSqrtPrice(pos.TickUpper)
	if err != nil {
		return batch.NoHandle, batch.NoHandle, err
	}
	amountX, amountY, err := liquidity.AmountsForLiquidity(pool.SqrtPriceX96, lowerSqrt, upperSqrt, liq)
	if err != nil {
		return batch.NoHandle, batch.NoHandle, err
	}

	data, err := pm.Pack("decreaseLiquidity", struct {
		TokenId    *big.Int
		Liquidity  *big.Int
		Amount0Min *big.Int
		Amount1Min *big.Int
		Deadline   *big.Int
	}{id, liq, minX, minY, o.deadline()})
	if err != nil {
		return batch.NoHandle, batch.NoHandle, fmt.Errorf("pack decreaseLiquidity: %w", err)
	}

	creates := make([]string, 0, 2)
	if amountX.Sign() > 0 {
		creates = append(creates, pool.AssetX)
	}
	if amountY.Sign() > 0 {
		creates = append(creates, pool.AssetY)
	}
	call := batch.Call{Target: o.PositionManager, Data: data}
	out, err := b.Append(batch.OpRemoveLiquidity, call, nil, creates, "withdraw "+pos.ID)
	if err != nil {
		return batch.NoHandle, batch.NoHandle, err
	}

	hX, hY := batch.NoHandle, batch.NoHandle
	i := 0
	if amountX.Sign() > 0 {
		hX = out[i]
		i++
	}
	if amountY.Sign() > 0 {
		hY = out[i]
	}
	return hX, hY, nil
}

// CollectFees packs collect for everything owed. A side with nothing owed
// yields NoHandle.
func (o *Operations) CollectFees(b *batch.Batch, pool model.Pool, pos model.Position) (batch.Handle, batch.Handle, error) {
	owedX := pos.OwedFeesX != nil && pos.OwedFeesX.Sign() > 0
	owedY := pos.OwedFeesY != nil && pos.OwedFeesY.Sign() > 0
	if !owedX && !owedY {
		return batch.NoHandle, batch.NoHandle, nil
	}

	id, err := tokenID(pos)
	if err != nil {
		return batch.NoHandle, batch.NoHandle, err
	}
	pm, err := PositionManagerABI()
	if err != nil {
		return batch.NoHandle, batch.NoHandle, err
	}
	data, err := pm.Pack("collect", struct {
		TokenId    *big.Int
		Recipient  common.Address
		Amount0Max *big.Int
		Amount1Max *big.Int
	}{id, common.HexToAddress(o.Executor), maxUint128, maxUint128})
	if err != nil {
		return batch.NoHandle, batch.NoHandle, fmt.Errorf("pack collect: %w", err)
	}

	creates := make([]string, 0, 2)
	if owedX {
		creates = append(creates, pool.AssetX)
	}
	if owedY {
		creates = append(creates, pool.AssetY)
	}
	call := batch.Call{Target: o.PositionManager, Data: data}
	out, err := b.Append(batch.OpCollectFees, call, nil, creates, "fees "+pos.ID)
	if err != nil {
		return batch.NoHandle, batch.NoHandle, err
	}

	hX, hY := batch.NoHandle, batch.NoHandle
	i := 0
	if owedX {
		hX = out[i]
		i++
	}
	if owedY {
		hY = out[i]
	}
	return hX, hY, nil
}

// CollectReward packs a claim against the reward distributor.
func (o *Operations) CollectReward(b *batch.Batch, pool model.Pool, pos model.Position, reward model.RewardOwed) (batch.Handle, error) {
	if reward.Owed == nil || reward.Owed.Sign() <= 0 {
		return batch.NoHandle, nil
	}
	if o.Rewarder == "" {
		return batch.NoHandle, fmt.Errorf("reward %s owed but no reward distributor configured", reward.Asset)
	}

	id, err := tokenID(pos)
	if err != nil {
		return batch.NoHandle, err
	}
	rw, err := RewarderABI()
	if err != nil {
		return batch.NoHandle, err
	}
	data, err := rw.Pack("collectReward", id, common.HexToAddress(reward.Asset), common.HexToAddress(o.Executor))
	if err != nil {
		return batch.NoHandle, fmt.Errorf("pack collectReward: %w", err)
	}

	call := batch.Call{Target: o.Rewarder, Data: data}
	out, err := b.Append(batch.OpCollectReward, call, nil, []string{reward.Asset}, "reward "+reward.Asset)
	if err != nil {
		return batch.NoHandle, err
	}
	return out[0], nil
}

// ClosePosition packs burn. The position's liquidity and owed amounts must
// already be zero within the batch.
func (o *Operations) ClosePosition(b *batch.Batch, pool model.Pool, pos model.Position) error {
	id, err := tokenID(pos)
	if err != nil {
		return err
	}
	pm, err := PositionManagerABI()
	if err != nil {
		return err
	}
	data, err := pm.Pack("burn", id)
	if err != nil {
		return fmt.Errorf("pack burn: %w", err)
	}
	_, err = b.Append(batch.OpClosePosition, batch.Call{Target: o.PositionManager, Data: data}, nil, nil, "burn "+pos.ID)
	return err
}

// Swap packs exactInputSingle drawing amountIn from in. The change handle
// carries whatever the input handle held beyond amountIn.
func (o *Operations) Swap(b *batch.Batch, pool model.Pool, in batch.Handle, amountIn, minOut *big.Int) (batch.Handle, batch.Handle, error) {
	assetOut := pool.AssetY
	if in.Asset() == pool.AssetY {
		assetOut = pool.AssetX
	}

	router, err := RouterABI()
	if err != nil {
		return batch.NoHandle, batch.NoHandle, err
	}
	data, err := router.Pack("exactInputSingle", struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{
		common.HexToAddress(in.Asset()),
		common.HexToAddress(assetOut),
		big.NewInt(int64(pool.Fee)),
		common.HexToAddress(o.Executor),
		o.deadline(),
		amountIn,
		minOut,
		big.NewInt(0),
	})
	if err != nil {
		return batch.NoHandle, batch.NoHandle, fmt.Errorf("pack exactInputSingle: %w", err)
	}

	call := batch.Call{Target: o.Router, Data: data}
	out, err := b.Append(batch.OpSwap, call, []batch.Handle{in}, []string{assetOut, in.Asset()}, "convert")
	if err != nil {
		return batch.NoHandle, batch.NoHandle, err
	}
	return out[0], out[1], nil
}

// OpenPosition packs mint with zero desired amounts; liquidity arrives in
// the following add step.
func (o *Operations) OpenPosition(b *batch.Batch, pool model.Pool, tickLower, tickUpper int) (batch.PositionRef, error) {
	pm, err := PositionManagerABI()
	if err != nil {
		return batch.PositionRef{}, err
	}
	data, err := pm.Pack("mint", struct {
		Token0         common.Address
		Token1         common.Address
		Fee            *big.Int
		TickLower      *big.Int
		TickUpper      *big.Int
		Amount0Desired *big.Int
		Amount1Desired *big.Int
		Amount0Min     *big.Int
		Amount1Min     *big.Int
		Recipient      common.Address
		Deadline       *big.Int
	}{
		common.HexToAddress(pool.AssetX),
		common.HexToAddress(pool.AssetY),
		big.NewInt(int64(pool.Fee)),
		big.NewInt(int64(tickLower)),
		big.NewInt(int64(tickUpper)),
		big.NewInt(0), big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.HexToAddress(o.Executor),
		o.deadline(),
	})
	if err != nil {
		return batch.PositionRef{}, fmt.Errorf("pack mint: %w", err)
	}

	o.openLower, o.openUpper = tickLower, tickUpper
	return b.NewPosition(batch.Call{Target: o.PositionManager, Data: data}, fmt.Sprintf("mint [%d, %d]", tickLower, tickUpper))
}

// IncreaseLiquidity packs the deposit that fills the freshly minted position,
// consuming both asset handles.
func (o *Operations) IncreaseLiquidity(b *batch.Batch, pool model.Pool, ref batch.PositionRef, liq *big.Int, x, y batch.Handle) error {
	if !ref.Valid() {
		return fmt.Errorf("add liquidity to unopened position")
	}

	lowerSqrt, err := tickmath.TickToSqrtPrice(o.openLower)
	if err != nil {
		return err
	}
	upperSqrt, err := tickmath.TickToSqrtPrice(o.openUpper)
	if err != nil {
		return err
	}
	amountX, amountY, err := liquidity.AmountsForLiquidity(pool.SqrtPriceX96, lowerSqrt, upperSqrt, liq)
	if err != nil {
		return err
	}

	pm, err := PositionManagerABI()
	if err != nil {
		return err
	}
	// The minted token id is unknown until the batch executes; the executor
	// substitutes the id returned by the mint call.
	data, err := pm.Pack("increaseLiquidity", struct {
		TokenId        *big.Int
		Amount0Desired *big.Int
		Amount1Desired *big.Int
		Amount0Min     *big.Int
		Amount1Min     *big.Int
		Deadline       *big.Int
	}{big.NewInt(0), amountX, amountY, big.NewInt(0), big.NewInt(0), o.deadline()})
	if err != nil {
		return fmt.Errorf("pack increaseLiquidity: %w", err)
	}

	consumes := make([]batch.Handle, 0, 2)
	if x.Valid() {
		consumes = append(consumes, x)
	}
	if y.Valid() {
		consumes = append(consumes, y)
	}
	_, err = b.Append(batch.OpAddLiquidity, batch.Call{Target: o.PositionManager, Data: data}, consumes, nil, "deposit")
	return err
}
