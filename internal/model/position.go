package model

import "math/big"

// RewardOwed tracks the accrued amount for one reward stream of a position.
type RewardOwed struct {
	Asset          string
	Decimals       uint8
	Owed           *big.Int
	LastSeenGrowth *big.Int
}

// Position is a snapshot of a liquidity position over a tick range.
// tickLower < tickUpper and both are tick-spacing aligned.
type Position struct {
	ID        string
	Owner     string
	PoolID    string
	TickLower int
	TickUpper int
	Liquidity *big.Int
	OwedFeesX *big.Int
	OwedFeesY *big.Int
	Rewards   []RewardOwed
}

// InRange reports whether the pool's current tick sits inside the
// position's range, inclusive on both ends.
func (p Position) InRange(currentTick int) bool {
	return p.TickLower <= currentTick && currentTick <= p.TickUpper
}
