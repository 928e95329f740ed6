package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/audit"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/batch"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/chain"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/config"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/guard"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/price"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/protocol/univ3"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/provider"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/rebalance"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "rebalancer",
		Short:        "CLMM position rebalancer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the rebalancing engine",
		RunE:  runEngine,
	}
	addEngineFlags(runCmd)
	runCmd.Flags().String("key-file", "", "path to hex-encoded signing key")
	runCmd.Flags().String("executor", "", "batch executor contract address")
	root.AddCommand(runCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate one cycle without submitting",
		RunE:  runCheck,
	}
	addEngineFlags(checkCmd)
	root.AddCommand(checkCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "RPC URL")
	cmd.Flags().String("pool", "", "pool contract address")
	cmd.Flags().String("position-manager", "", "position manager contract address")
	cmd.Flags().String("router", "", "swap router contract address")
	cmd.Flags().String("rewarder", "", "reward distributor contract address (optional)")
	cmd.Flags().String("owner", "", "position owner address")
	cmd.Flags().String("strategy", "", "strategy preset (conservative, aggressive)")
	cmd.Flags().Duration("poll-interval", 30*time.Second, "cycle interval")
	cmd.Flags().Duration("max-processing", 5*time.Minute, "hard ceiling per cycle before the process exits")
	cmd.Flags().Int("width-multiplier", 10, "range width in tick spacings")
	cmd.Flags().String("buffer-pct", "10%", "edge buffer threshold")
	cmd.Flags().String("target-pct", "20%", "edge target threshold")
	cmd.Flags().String("slippage-tolerance", "1%", "maximum accepted slippage")
	cmd.Flags().String("max-price-impact", "2%", "maximum accepted swap price impact")
	cmd.Flags().Duration("cooldown", 30*time.Minute, "minimum time between rebalances")
	cmd.Flags().String("volatility-ceiling", "3%", "price range over the window that pauses rebalancing")
	cmd.Flags().Duration("volatility-window", 15*time.Minute, "volatility observation window")
	cmd.Flags().String("max-value-drift", "1%", "value drift that raises an alert")
	cmd.Flags().String("min-zap-amount", "0", "smallest conversion worth executing (raw units)")
	cmd.Flags().String("reward-usd-threshold", "0.01", "smallest reward claim worth executing (USD)")
	cmd.Flags().StringSlice("price", nil, "static USD prices, asset=value (comma-separated)")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts for reads")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("checkpoint", "./data/rebalance-checkpoint.json", "checkpoint file path")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN (replaces the checkpoint file when set)")
	cmd.Flags().String("audit-out", "./data/audit.jsonl", "audit JSONL path")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func runEngine(cmd *cobra.Command, _ []string) error {
	return start(cmd, false)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	return start(cmd, true)
}

func start(cmd *cobra.Command, checkOnly bool) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if cfg.PoolAddress == "" || cfg.PositionManager == "" || cfg.Owner == "" {
		return fmt.Errorf("pool, position-manager, and owner are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	rewarder, _ := cmd.Flags().GetString("rewarder")
	executor, _ := cmd.Flags().GetString("executor")

	pools := univ3.NewPoolProvider(chainClient)
	positions := univ3.NewPositionProvider(chainClient, cfg.PositionManager, rewarder, pools)

	priceFlags, _ := cmd.Flags().GetStringSlice("price")
	prices, err := buildPrices(priceFlags, logger)
	if err != nil {
		return err
	}

	var checkpoints provider.CheckpointStore
	var history rebalance.HistorySink
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN, cfg.PoolAddress)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		checkpoints = store
		history = store
	} else {
		checkpoints = rebalance.NewFileCheckpointStore(cfg.Checkpoint)
	}

	ops := univ3.NewOperations(cfg.PositionManager, cfg.Router, rewarder, executor, 10*time.Minute, nil)

	builder := batch.NewBuilder(ops, prices, batch.Config{
		SlippageTolerance:  cfg.SlippageTolerance,
		MinZapAmount:       cfg.MinZapAmount,
		RewardUSDThreshold: cfg.RewardUSDThreshold,
	}, logger)

	deps := rebalance.Deps{
		Pools:       pools,
		Positions:   positions,
		Prices:      prices,
		Builder:     builder,
		Checkpoints: checkpoints,
		Cooldown:    guard.NewCooldown(cfg.CooldownPeriod, nil),
		Volatility:  guard.NewVolatility(cfg.VolatilityCeiling, cfg.VolatilityWindow, nil),
		Slippage:    guard.Slippage{Tolerance: cfg.SlippageTolerance},
		Impact:      guard.PriceImpact{Threshold: cfg.MaxPriceImpact, Prices: prices},
		Audit:       audit.NewWriter(cfg.AuditOut),
		History:     history,
		Logger:      logger,
	}

	if !checkOnly {
		submitter, err := univ3.NewSubmitter(ctx, chainClient, executor, cfg.KeyFile, logger)
		if err != nil {
			return err
		}
		deps.Submitter = submitter
	}

	engine, err := rebalance.New(rebalance.Config{
		PoolID:          cfg.PoolAddress,
		Owner:           cfg.Owner,
		PollInterval:    cfg.PollInterval,
		MaxProcessing:   cfg.MaxProcessing,
		MaxRetries:      cfg.MaxRetries,
		RetryBackoff:    cfg.RetryBackoff,
		MaxRetryDelay:   cfg.MaxRetryDelay,
		WidthMultiplier: cfg.WidthMultiplier,
		BufferPct:       cfg.BufferPct,
		TargetPct:       cfg.TargetPct,
		MaxValueDrift:   cfg.MaxValueDrift,
	}, deps)
	if err != nil {
		return err
	}

	logger.Info("rebalancer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("pool", cfg.PoolAddress),
		zap.String("owner", cfg.Owner),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Int("width_multiplier", cfg.WidthMultiplier),
		zap.Bool("check_only", checkOnly),
	)

	if checkOnly {
		return engine.RunOnce(ctx)
	}
	return engine.Run(ctx)
}

// buildPrices assembles the price provider from asset=value flags. Every
// asset the engine values must be listed; assets without a price fail the
// cycle rather than defaulting.
func buildPrices(pairs []string, logger *zap.Logger) (provider.PriceProvider, error) {
	static := make(map[string]*big.Rat, len(pairs))
	for _, pair := range pairs {
		asset, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("price %q is not asset=value", pair)
		}
		r, ok := new(big.Rat).SetString(strings.TrimSpace(value))
		if !ok {
			return nil, fmt.Errorf("price %q has an invalid value", pair)
		}
		static[strings.ToLower(strings.TrimSpace(asset))] = r
	}
	if len(static) == 0 {
		return nil, fmt.Errorf("at least one --price asset=value is required")
	}
	return price.NewWeighted([]price.Source{
		{Name: "static", Provider: price.NewStatic(static), Weight: big.NewRat(1, 1)},
	}, time.Minute, logger, nil)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
