// Package postgres provides durable checkpoint storage and a rebalance
// history table for deployments that outlive a single host.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/audit"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/provider"
)

// Store provides Postgres persistence for checkpoints and history.
type Store struct {
	pool *pgxpool.Pool
	name string
}

// NewStore connects to Postgres. name scopes the checkpoint row so several
// engines can share one database.
func NewStore(ctx context.Context, dsn, name string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if name == "" {
		return nil, fmt.Errorf("engine name is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, name: name}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Load returns the engine's checkpoint if one is pending.
func (s *Store) Load(ctx context.Context) (model.RebalanceCheckpoint, bool, error) {
	var cp model.RebalanceCheckpoint
	row := s.pool.QueryRow(ctx, `
		SELECT state, position_id, pool_id, saved_at, payload
		FROM rebalance_checkpoints WHERE name=$1
	`, s.name)
	if err := row.Scan(&cp.State, &cp.PositionID, &cp.PoolID, &cp.Timestamp, &cp.Payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RebalanceCheckpoint{}, false, nil
		}
		return model.RebalanceCheckpoint{}, false, err
	}
	return cp, true, nil
}

// Save upserts the engine's checkpoint.
func (s *Store) Save(ctx context.Context, cp model.RebalanceCheckpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rebalance_checkpoints (name, state, position_id, pool_id, saved_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			state = EXCLUDED.state,
			position_id = EXCLUDED.position_id,
			pool_id = EXCLUDED.pool_id,
			saved_at = EXCLUDED.saved_at,
			payload = EXCLUDED.payload
	`, s.name, cp.State, cp.PositionID, cp.PoolID, cp.Timestamp, cp.Payload)
	return err
}

// Clear removes the engine's checkpoint.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rebalance_checkpoints WHERE name=$1`, s.name)
	return err
}

// RecordRebalance appends one completed cycle to the rebalance_history
// table.
func (s *Store) RecordRebalance(ctx context.Context, rec audit.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rebalance_history (
			name, pool_id, position_id, action, reason,
			target_lower, target_upper, tx_hash,
			value_before, value_after, drift, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
	`,
		s.name,
		rec.PoolID,
		rec.PositionID,
		rec.Action,
		rec.Reason,
		rec.TargetLower,
		rec.TargetUpper,
		rec.TxHash,
		rec.ValueBefore,
		rec.ValueAfter,
		rec.Drift,
	)
	return err
}

var _ provider.CheckpointStore = (*Store)(nil)
