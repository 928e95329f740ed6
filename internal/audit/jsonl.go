// Package audit appends one JSON line per poll cycle so an operator can
// reconstruct every decision from its inputs: current tick, range, guard
// values, and the action taken.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record captures the decision inputs and outcome of one cycle.
type Record struct {
	Timestamp     time.Time `json:"ts"`
	PoolID        string    `json:"pool_id"`
	PositionID    string    `json:"position_id,omitempty"`
	CurrentTick   int       `json:"current_tick"`
	PositionLower int       `json:"position_lower,omitempty"`
	PositionUpper int       `json:"position_upper,omitempty"`
	InRange       bool      `json:"in_range"`
	Action        string    `json:"action"`
	Reason        string    `json:"reason,omitempty"`
	TargetLower   int       `json:"target_lower,omitempty"`
	TargetUpper   int       `json:"target_upper,omitempty"`
	GuardResults  []string  `json:"guard_results,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	ValueBefore   string    `json:"value_before,omitempty"`
	ValueAfter    string    `json:"value_after,omitempty"`
	Drift         string    `json:"drift,omitempty"`
}

// Writer appends records to a JSONL file.
type Writer struct {
	path string
	mu   sync.Mutex
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

// Append writes one record as a JSON line.
func (w *Writer) Append(rec Record) error {
	dir := filepath.Dir(w.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush audit file: %w", err)
	}
	return nil
}
