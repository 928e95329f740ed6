package model

import (
	"encoding/json"
	"time"
)

// Checkpoint states, in rebalance order.
const (
	StateMonitoring     = "MONITORING"
	StatePositionClosed = "POSITION_CLOSED"
	StateSwapCompleted  = "SWAP_COMPLETED"
	StatePositionOpened = "POSITION_OPENED"
	StateLiquidityAdded = "LIQUIDITY_ADDED"
)

// RebalanceCheckpoint is the durable record persisted before a batch
// submission so a crash mid-submission can be detected on restart.
type RebalanceCheckpoint struct {
	State      string          `json:"state"`
	PositionID string          `json:"position_id"`
	PoolID     string          `json:"pool_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
