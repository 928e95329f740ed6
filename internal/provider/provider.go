// Package provider declares the external collaborators consumed by the
// rebalancing core. Production implementations live under internal/protocol
// and internal/storage; tests use in-package fakes.
package provider

import (
	"context"
	"errors"
	"math/big"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
)

var (
	// ErrNoPriceAvailable is returned when no source can quote an asset.
	ErrNoPriceAvailable = errors.New("no price available")
	// ErrPositionNotFound is returned when an owner has no position in a pool.
	ErrPositionNotFound = errors.New("position not found")
)

// PriceProvider quotes the USD price of one whole unit of an asset.
type PriceProvider interface {
	Price(ctx context.Context, assetID string) (*big.Rat, error)
}

// PoolProvider fetches pool snapshots.
type PoolProvider interface {
	Pool(ctx context.Context, poolID string) (model.Pool, error)
}

// PositionProvider fetches position snapshots.
type PositionProvider interface {
	Position(ctx context.Context, positionID string) (model.Position, error)
	// LargestPosition returns the owner's highest-liquidity position in the
	// pool, or ok=false when the owner holds none.
	LargestPosition(ctx context.Context, owner, poolID string) (pos model.Position, ok bool, err error)
}

// CheckpointStore persists rebalance checkpoints for crash recovery.
type CheckpointStore interface {
	Load(ctx context.Context) (cp model.RebalanceCheckpoint, ok bool, err error)
	Save(ctx context.Context, cp model.RebalanceCheckpoint) error
	Clear(ctx context.Context) error
}
