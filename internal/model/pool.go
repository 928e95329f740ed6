package model

import "math/big"

// RewardStream describes one reward emission attached to a pool.
type RewardStream struct {
	Asset         string
	GrowthGlobal  *big.Int
	RatePerSecond *big.Int
	EndTimestamp  uint64
}

// Pool is an immutable snapshot of a concentrated-liquidity pool,
// fetched once per poll cycle.
type Pool struct {
	ID           string
	AssetX       string
	AssetY       string
	DecimalsX    uint8
	DecimalsY    uint8
	Fee          uint32 // hundredths of a bip, 3000 = 0.3%
	TickSpacing  int
	CurrentTick  int
	SqrtPriceX96 *big.Int
	FeeGrowthX   *big.Int
	FeeGrowthY   *big.Int
	Rewards      []RewardStream
}
