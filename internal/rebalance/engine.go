// Package rebalance drives the monitor-decide-execute-recover cycle. A
// single poll loop owns all mutable state; network fetches are the only
// suspension points and no two cycles overlap.
package rebalance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/audit"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/batch"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/guard"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/provider"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/rangecalc"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/valuation"
)

// ErrCheckpointPresent means a previous run crashed or was rejected
// mid-rebalance. The engine refuses to start: resubmitting blindly could
// double-close or double-open a position, so recovery is operator-driven.
var ErrCheckpointPresent = errors.New("rebalance checkpoint present, manual recovery required")

// BatchSubmitter sends one atomic batch to the ledger. Submissions are
// all-or-nothing and never automatically retried.
type BatchSubmitter interface {
	Submit(ctx context.Context, b *batch.Batch) (txHash string, err error)
}

// HistorySink receives completed rebalances for long-term storage, beyond
// the local audit trail.
type HistorySink interface {
	RecordRebalance(ctx context.Context, rec audit.Record) error
}

// Config holds the engine's runtime settings.
type Config struct {
	PoolID          string
	Owner           string
	PollInterval    time.Duration
	MaxProcessing   time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryDelay   time.Duration
	WidthMultiplier int
	BufferPct       *big.Rat
	TargetPct       *big.Rat
	MaxValueDrift   *big.Rat
}

// Deps wires the engine's collaborators.
type Deps struct {
	Pools       provider.PoolProvider
	Positions   provider.PositionProvider
	Prices      provider.PriceProvider
	Builder     *batch.Builder
	Submitter   BatchSubmitter
	Checkpoints provider.CheckpointStore
	Cooldown    *guard.Cooldown
	Volatility  *guard.Volatility
	Slippage    guard.Slippage
	Impact      guard.PriceImpact
	Audit       *audit.Writer
	History     HistorySink
	Logger      *zap.Logger
	Now         func() time.Time
}

// Engine sequences MONITORING -> POSITION_CLOSED -> SWAP_COMPLETED ->
// POSITION_OPENED -> LIQUIDITY_ADDED -> MONITORING.
type Engine struct {
	cfg   Config
	deps  Deps
	state string
}

// New builds an engine. Logger and Now may be nil.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Pools == nil || deps.Positions == nil || deps.Prices == nil {
		return nil, fmt.Errorf("pool, position and price providers are required")
	}
	if deps.Builder == nil {
		return nil, fmt.Errorf("batch builder is required")
	}
	if deps.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if deps.Cooldown == nil || deps.Volatility == nil {
		return nil, fmt.Errorf("cooldown and volatility guards are required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{cfg: cfg, deps: deps, state: model.StateMonitoring}, nil
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() string { return e.state }

type checkpointPayload struct {
	OldLower     int    `json:"old_lower"`
	OldUpper     int    `json:"old_upper"`
	NewLower     int    `json:"new_lower"`
	NewUpper     int    `json:"new_upper"`
	Liquidity    string `json:"liquidity"`
	SwapAmountIn string `json:"swap_amount_in,omitempty"`
}

// Run polls until the context is cancelled. A checkpoint left by a previous
// run aborts startup with ErrCheckpointPresent.
func (e *Engine) Run(ctx context.Context) error {
	if e.deps.Submitter == nil {
		return fmt.Errorf("batch submitter is required")
	}
	if e.cfg.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	cp, found, err := e.deps.Checkpoints.Load(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if found {
		e.deps.Logger.Error("stale checkpoint found",
			zap.String("state", cp.State),
			zap.String("position_id", cp.PositionID),
			zap.Time("saved_at", cp.Timestamp),
		)
		return fmt.Errorf("%w: state %s, position %s", ErrCheckpointPresent, cp.State, cp.PositionID)
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := e.cycleWithWatchdog(ctx, false); err != nil {
			if errors.Is(err, batch.ErrUnbalancedAssetHandle) {
				// Internal invariant violation: the batch was never
				// submitted. Alert loudly and keep monitoring.
				e.deps.Logger.Error("batch conservation proof failed", zap.Error(err))
			} else {
				e.deps.Logger.Warn("cycle failed", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce evaluates a single cycle without submitting anything.
func (e *Engine) RunOnce(ctx context.Context) error {
	return e.cycleWithWatchdog(ctx, true)
}

// cycleWithWatchdog terminates the process when a cycle exceeds the
// processing ceiling. Coarse by design: a ledger submission cannot be
// cancelled mid-flight once sent, so the supervisor restart is the only
// safe recovery.
func (e *Engine) cycleWithWatchdog(ctx context.Context, dryRun bool) error {
	if e.cfg.MaxProcessing > 0 {
		watchdog := time.AfterFunc(e.cfg.MaxProcessing, func() {
			e.deps.Logger.Fatal("cycle exceeded max processing time", zap.Duration("limit", e.cfg.MaxProcessing))
		})
		defer watchdog.Stop()
	}
	return e.runCycle(ctx, dryRun)
}

func (e *Engine) runCycle(ctx context.Context, dryRun bool) error {
	rec := audit.Record{Timestamp: e.deps.Now(), PoolID: e.cfg.PoolID}

	var pool model.Pool
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, e.cfg.MaxRetryDelay, func(ctx context.Context) error {
		var err error
		pool, err = e.deps.Pools.Pool(ctx, e.cfg.PoolID)
		if err != nil {
			e.deps.Logger.Warn("pool fetch failed", zap.Error(err), zap.String("pool_id", e.cfg.PoolID))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch pool: %w", err)
	}
	rec.CurrentTick = pool.CurrentTick

	e.deps.Volatility.Observe(pool.SqrtPriceX96)

	var pos model.Position
	var havePosition bool
	err = withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, e.cfg.MaxRetryDelay, func(ctx context.Context) error {
		var err error
		pos, havePosition, err = e.deps.Positions.LargestPosition(ctx, e.cfg.Owner, e.cfg.PoolID)
		if err != nil {
			e.deps.Logger.Warn("position fetch failed", zap.Error(err), zap.String("owner", e.cfg.Owner))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch position: %w", err)
	}

	if !havePosition || pos.Liquidity == nil || pos.Liquidity.Sign() == 0 {
		rec.Action = "none"
		rec.Reason = "no active position"
		e.writeAudit(rec)
		return nil
	}
	rec.PositionID = pos.ID
	rec.PositionLower = pos.TickLower
	rec.PositionUpper = pos.TickUpper

	// A position in range never rebalances, regardless of other signals.
	if pos.InRange(pool.CurrentTick) {
		rec.InRange = true
		rec.Action = "hold"
		rec.Reason = "position in range"
		e.writeAudit(rec)
		return nil
	}

	e.deps.Logger.Info("position out of range",
		zap.String("position_id", pos.ID),
		zap.Int("current_tick", pool.CurrentTick),
		zap.Int("lower", pos.TickLower),
		zap.Int("upper", pos.TickUpper),
	)

	if res := e.deps.Cooldown.Check(); !res.OK {
		return e.rejectCycle(rec, res)
	}
	if res := e.deps.Volatility.Check(); !res.OK {
		return e.rejectCycle(rec, res)
	}

	target, err := rangecalc.Calculate(rangecalc.Params{
		CurrentTick:     pool.CurrentTick,
		SqrtPriceX96:    pool.SqrtPriceX96,
		TickSpacing:     pool.TickSpacing,
		WidthMultiplier: e.cfg.WidthMultiplier,
		BufferPct:       e.cfg.BufferPct,
		TargetPct:       e.cfg.TargetPct,
	})
	if err != nil {
		return fmt.Errorf("range calculation: %w", err)
	}
	rec.TargetLower = target.Lower
	rec.TargetUpper = target.Upper

	built, plan, err := e.deps.Builder.BuildRebalance(ctx, pool, pos, target)
	if err != nil {
		return fmt.Errorf("build batch: %w", err)
	}

	if plan.HasSwap() {
		if res := e.deps.Slippage.Check(plan.OracleExpectedOut, plan.PoolExpectedOut); !res.OK {
			return e.rejectCycle(rec, res)
		}
		res, err := e.deps.Impact.Check(ctx,
			guard.Leg{Asset: plan.SwapAssetIn, Decimals: plan.SwapDecimalsIn, Amount: plan.SwapAmountIn},
			guard.Leg{Asset: plan.SwapAssetOut, Decimals: plan.SwapDecimalsOut, Amount: plan.PoolExpectedOut},
		)
		if err != nil {
			return fmt.Errorf("price impact check: %w", err)
		}
		if !res.OK {
			return e.rejectCycle(rec, res)
		}
	}

	before, err := valuation.Take(ctx, e.deps.Prices, pool, plan.TotalX, plan.TotalY)
	if err != nil {
		return fmt.Errorf("value snapshot: %w", err)
	}
	rec.ValueBefore = before.TotalUSD.FloatString(6)

	if dryRun {
		rec.Action = "rebalance (dry run)"
		rec.Reason = fmt.Sprintf("would move to [%d, %d] with %d operations", target.Lower, target.Upper, built.Len())
		e.writeAudit(rec)
		return nil
	}

	payload, err := json.Marshal(checkpointPayload{
		OldLower:     pos.TickLower,
		OldUpper:     pos.TickUpper,
		NewLower:     target.Lower,
		NewUpper:     target.Upper,
		Liquidity:    pos.Liquidity.String(),
		SwapAmountIn: amountString(plan.SwapAmountIn),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint payload: %w", err)
	}

	// The checkpoint goes down before any submission attempt: a crash from
	// here on is detectable instead of silently duplicating a close or open.
	cp := model.RebalanceCheckpoint{
		State:      model.StatePositionClosed,
		PositionID: pos.ID,
		PoolID:     pool.ID,
		Timestamp:  e.deps.Now(),
		Payload:    payload,
	}
	if err := e.deps.Checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	txHash, err := e.deps.Submitter.Submit(ctx, built)
	if err != nil {
		// Checkpoint stays for manual inspection; state does not advance.
		e.deps.Logger.Error("batch submission rejected",
			zap.Error(err),
			zap.String("position_id", pos.ID),
			zap.Int("target_lower", target.Lower),
			zap.Int("target_upper", target.Upper),
		)
		rec.Action = "submission rejected"
		rec.Reason = err.Error()
		e.writeAudit(rec)
		return nil
	}

	// The atomic batch has landed; walk the remaining lifecycle states so the
	// checkpoint store shows full progress before it is cleared.
	e.state = model.StatePositionClosed
	if plan.HasSwap() {
		e.advance(ctx, cp, model.StateSwapCompleted)
	}
	e.advance(ctx, cp, model.StatePositionOpened)
	e.advance(ctx, cp, model.StateLiquidityAdded)

	e.deps.Cooldown.RecordExecution()

	after, err := valuation.Take(ctx, e.deps.Prices, pool, plan.PostX, plan.PostY)
	if err != nil {
		e.deps.Logger.Warn("post-rebalance value snapshot failed", zap.Error(err))
	} else {
		rec.ValueAfter = after.TotalUSD.FloatString(6)
		drift, derr := valuation.Drift(before, after)
		if derr == nil {
			rec.Drift = drift.FloatString(6)
		}
		if err := valuation.CheckDrift(before, after, e.cfg.MaxValueDrift); err != nil {
			e.deps.Logger.Warn("value drift audit flagged", zap.Error(err))
		}
	}

	if err := e.deps.Checkpoints.Clear(ctx); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	e.state = model.StateMonitoring

	rec.Action = "rebalanced"
	rec.TxHash = txHash
	e.writeAudit(rec)

	if e.deps.History != nil {
		if err := e.deps.History.RecordRebalance(ctx, rec); err != nil {
			e.deps.Logger.Warn("history write failed", zap.Error(err))
		}
	}

	e.deps.Logger.Info("rebalance complete",
		zap.String("tx_hash", txHash),
		zap.Int("new_lower", target.Lower),
		zap.Int("new_upper", target.Upper),
		zap.String("new_liquidity", plan.NewLiquidity.String()),
	)
	return nil
}

// rejectCycle ends the cycle on a guard rejection without mutating any
// persisted state.
func (e *Engine) rejectCycle(rec audit.Record, res guard.Result) error {
	e.deps.Logger.Info("rebalance rejected by guard", zap.String("reason", res.Reason))
	rec.Action = "guard rejected"
	rec.Reason = res.Reason
	rec.GuardResults = []string{res.Reason}
	e.writeAudit(rec)
	return nil
}

// advance moves the lifecycle forward and mirrors the new state into the
// checkpoint, so an operator inspecting the store sees how far a submitted
// batch progressed.
func (e *Engine) advance(ctx context.Context, cp model.RebalanceCheckpoint, state string) {
	e.state = state
	cp.State = state
	cp.Timestamp = e.deps.Now()
	if err := e.deps.Checkpoints.Save(ctx, cp); err != nil {
		e.deps.Logger.Warn("checkpoint update failed", zap.Error(err), zap.String("state", state))
	}
	e.deps.Logger.Debug("state advanced", zap.String("state", state))
}

func (e *Engine) writeAudit(rec audit.Record) {
	if e.deps.Audit == nil {
		return
	}
	if err := e.deps.Audit.Append(rec); err != nil {
		e.deps.Logger.Warn("audit write failed", zap.Error(err))
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
