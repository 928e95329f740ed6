package univ3

import (
	"math/big"
	"testing"
	"time"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/batch"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/tickmath"
)

func testOps() *Operations {
	now := func() time.Time { return time.Unix(1_700_000_000, 0) }
	return NewOperations(
		"0x1000000000000000000000000000000000000001",
		"0x1000000000000000000000000000000000000002",
		"0x1000000000000000000000000000000000000003",
		"0x1000000000000000000000000000000000000004",
		10*time.Minute,
		now,
	)
}

func opsFixture(t *testing.T) (model.Pool, model.Position) {
	t.Helper()
	sqrt, err := tickmath.TickToSqrtPrice(0)
	if err != nil {
		t.Fatalf("sqrt price: %v", err)
	}
	pool := model.Pool{
		ID:           "0x2000000000000000000000000000000000000001",
		AssetX:       "0x3000000000000000000000000000000000000001",
		AssetY:       "0x3000000000000000000000000000000000000002",
		DecimalsX:    6,
		DecimalsY:    6,
		Fee:          3000,
		TickSpacing:  60,
		CurrentTick:  0,
		SqrtPriceX96: sqrt,
	}
	pos := model.Position{
		ID:        "12345",
		Owner:     "0x4000000000000000000000000000000000000001",
		PoolID:    pool.ID,
		TickLower: -1200,
		TickUpper: -600,
		Liquidity: big.NewInt(1_000_000_000),
		OwedFeesX: big.NewInt(10),
		OwedFeesY: big.NewInt(20),
	}
	return pool, pos
}

func TestOperationsComposeBalancedBatch(t *testing.T) {
	ops := testOps()
	pool, pos := opsFixture(t)
	b := batch.New()

	// The range sits below the current tick, so the withdrawal is all Y.
	hX, hY, err := ops.RemoveLiquidity(b, pool, pos, pos.Liquidity, big.NewInt(0), big.NewInt(0))
	if err != nil {
		t.Fatalf("remove liquidity: %v", err)
	}
	if hX.Valid() {
		t.Fatalf("withdrawal above the range should yield no X handle")
	}
	if !hY.Valid() {
		t.Fatalf("withdrawal above the range should yield a Y handle")
	}
	fX, fY, err := ops.CollectFees(b, pool, pos)
	if err != nil {
		t.Fatalf("collect fees: %v", err)
	}
	if !fX.Valid() || !fY.Valid() {
		t.Fatalf("both fee sides are owed and should yield handles")
	}

	mX := fX
	mY, err := b.Merge([]batch.Handle{hY, fY})
	if err != nil {
		t.Fatalf("merge y: %v", err)
	}

	if err := ops.ClosePosition(b, pool, pos); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, change, err := ops.Swap(b, pool, mX, big.NewInt(500), big.NewInt(490))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if out.Asset() != pool.AssetY || change.Asset() != pool.AssetX {
		t.Fatalf("swap handle assets: out=%s change=%s", out.Asset(), change.Asset())
	}
	mY, err = b.Merge([]batch.Handle{mY, out})
	if err != nil {
		t.Fatalf("merge swap output: %v", err)
	}

	ref, err := ops.OpenPosition(b, pool, -600, 600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := ops.IncreaseLiquidity(b, pool, ref, big.NewInt(1_000_000), change, mY); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if err := b.TransferPosition(ref, pos.Owner); err != nil {
		t.Fatalf("transfer position: %v", err)
	}

	if err := b.Validate(); err != nil {
		t.Fatalf("batch should balance: %v", err)
	}
	for i, op := range b.Operations() {
		if op.Kind == batch.OpMergeHandles || op.Kind == batch.OpTransferPosition {
			continue
		}
		if len(op.Call.Data) == 0 {
			t.Fatalf("op %d (%s) has no calldata", i, op.Kind)
		}
		if op.Call.Target == "" {
			t.Fatalf("op %d (%s) has no target", i, op.Kind)
		}
	}
}

func TestRemoveLiquidityOneSidedYieldsSingleHandle(t *testing.T) {
	ops := testOps()
	pool, pos := opsFixture(t)
	pos.TickLower = 600
	pos.TickUpper = 1200
	b := batch.New()

	// Range above the current tick: the position holds only X.
	hX, hY, err := ops.RemoveLiquidity(b, pool, pos, pos.Liquidity, big.NewInt(0), big.NewInt(0))
	if err != nil {
		t.Fatalf("remove liquidity: %v", err)
	}
	if !hX.Valid() || hY.Valid() {
		t.Fatalf("expected only an X handle, got x=%v y=%v", hX.Valid(), hY.Valid())
	}

	pos.TickLower = -600
	pos.TickUpper = 600
	hX, hY, err = ops.RemoveLiquidity(batch.New(), pool, pos, pos.Liquidity, big.NewInt(0), big.NewInt(0))
	if err != nil {
		t.Fatalf("remove liquidity in range: %v", err)
	}
	if !hX.Valid() || !hY.Valid() {
		t.Fatalf("in-range withdrawal should yield both handles")
	}
}

func TestCollectFeesNothingOwed(t *testing.T) {
	ops := testOps()
	pool, pos := opsFixture(t)
	pos.OwedFeesX = nil
	pos.OwedFeesY = big.NewInt(0)
	b := batch.New()

	hX, hY, err := ops.CollectFees(b, pool, pos)
	if err != nil {
		t.Fatalf("collect fees: %v", err)
	}
	if hX.Valid() || hY.Valid() {
		t.Fatalf("nothing owed should yield no handles")
	}
	if b.Len() != 0 {
		t.Fatalf("nothing owed should append no operation")
	}
}

func TestCollectRewardRequiresDistributor(t *testing.T) {
	ops := testOps()
	ops.Rewarder = ""
	pool, pos := opsFixture(t)
	b := batch.New()

	reward := model.RewardOwed{Asset: "0x3000000000000000000000000000000000000003", Decimals: 6, Owed: big.NewInt(100)}
	if _, err := ops.CollectReward(b, pool, pos, reward); err == nil {
		t.Fatalf("expected error when no reward distributor is configured")
	}
}

func TestTokenIDValidation(t *testing.T) {
	ops := testOps()
	pool, pos := opsFixture(t)
	pos.ID = "not-a-number"
	b := batch.New()

	if _, _, err := ops.RemoveLiquidity(b, pool, pos, pos.Liquidity, big.NewInt(0), big.NewInt(0)); err == nil {
		t.Fatalf("expected error for non-numeric position id")
	}
}
