package batch

import (
	"math/big"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
)

// ChainOperations encodes protocol-specific ledger calls into a batch. One
// implementation exists per underlying protocol, selected once at
// construction; it is invoked only from within the builder.
//
// Methods that can yield zero results return NoHandle instead of a handle.
type ChainOperations interface {
	// RemoveLiquidity withdraws all liquidity from the position, yielding up
	// to one handle per pool asset.
	RemoveLiquidity(b *Batch, pool model.Pool, pos model.Position, liq, minX, minY *big.Int) (x, y Handle, err error)

	// CollectFees claims accrued fees; a side with nothing owed yields NoHandle.
	CollectFees(b *Batch, pool model.Pool, pos model.Position) (x, y Handle, err error)

	// CollectReward claims one reward stream; zero owed yields NoHandle.
	CollectReward(b *Batch, pool model.Pool, pos model.Position, reward model.RewardOwed) (Handle, error)

	// ClosePosition destroys the position; its liquidity and owed amounts
	// must already be zero within the batch.
	ClosePosition(b *Batch, pool model.Pool, pos model.Position) error

	// Swap converts amountIn drawn from in, yielding the output handle and a
	// change handle for the unconverted remainder (NoHandle when amountIn
	// drains the input exactly).
	Swap(b *Batch, pool model.Pool, in Handle, amountIn, minOut *big.Int) (out, change Handle, err error)

	// OpenPosition creates an empty position over the tick range.
	OpenPosition(b *Batch, pool model.Pool, tickLower, tickUpper int) (PositionRef, error)

	// IncreaseLiquidity deposits both handles into the position.
	IncreaseLiquidity(b *Batch, pool model.Pool, ref PositionRef, liq *big.Int, x, y Handle) error
}
