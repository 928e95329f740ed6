// Package config merges config file, environment, and flags into the
// rebalancer's runtime settings. Percentages are parsed as exact rationals;
// float intermediates are never used for money math.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL          string
	PoolAddress     string
	PositionManager string
	Router          string
	Owner           string
	KeyFile         string

	PollInterval  time.Duration
	MaxProcessing time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	MaxRetryDelay time.Duration

	WidthMultiplier int
	BufferPct       *big.Rat
	TargetPct       *big.Rat

	SlippageTolerance  *big.Rat
	MaxPriceImpact     *big.Rat
	CooldownPeriod     time.Duration
	VolatilityCeiling  *big.Rat
	VolatilityWindow   time.Duration
	MaxValueDrift      *big.Rat
	MinZapAmount       *big.Int
	RewardUSDThreshold *big.Rat

	Checkpoint string
	PGDSN      string
	AuditOut   string
	LogLevel   string
}

// preset applies a named strategy's defaults before file and flag overrides.
// Known presets are "conservative" and "aggressive".
func preset(v *viper.Viper, name string) error {
	switch name {
	case "":
	case "conservative":
		v.SetDefault("width-multiplier", 20)
		v.SetDefault("slippage-tolerance", "0.5%")
		v.SetDefault("max-price-impact", "1%")
		v.SetDefault("cooldown", time.Hour)
		v.SetDefault("volatility-ceiling", "2%")
	case "aggressive":
		v.SetDefault("width-multiplier", 6)
		v.SetDefault("slippage-tolerance", "1%")
		v.SetDefault("max-price-impact", "3%")
		v.SetDefault("cooldown", 10*time.Minute)
		v.SetDefault("volatility-ceiling", "5%")
	default:
		return fmt.Errorf("unknown strategy preset %q", name)
	}
	return nil
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REBALANCER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("poll-interval", 30*time.Second)
	v.SetDefault("max-processing", 5*time.Minute)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("max-retry-delay", 30*time.Second)
	v.SetDefault("width-multiplier", 10)
	v.SetDefault("buffer-pct", "10%")
	v.SetDefault("target-pct", "20%")
	v.SetDefault("slippage-tolerance", "1%")
	v.SetDefault("max-price-impact", "2%")
	v.SetDefault("cooldown", 30*time.Minute)
	v.SetDefault("volatility-ceiling", "3%")
	v.SetDefault("volatility-window", 15*time.Minute)
	v.SetDefault("max-value-drift", "1%")
	v.SetDefault("min-zap-amount", "0")
	v.SetDefault("reward-usd-threshold", "0.01")
	v.SetDefault("checkpoint", "./data/rebalance-checkpoint.json")
	v.SetDefault("audit-out", "./data/audit.jsonl")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := preset(v, v.GetString("strategy")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:           v.GetString("rpc"),
		PoolAddress:      v.GetString("pool"),
		PositionManager:  v.GetString("position-manager"),
		Router:           v.GetString("router"),
		Owner:            v.GetString("owner"),
		KeyFile:          v.GetString("key-file"),
		PollInterval:     v.GetDuration("poll-interval"),
		MaxProcessing:    v.GetDuration("max-processing"),
		MaxRetries:       v.GetInt("max-retries"),
		RetryBackoff:     v.GetDuration("retry-backoff"),
		MaxRetryDelay:    v.GetDuration("max-retry-delay"),
		WidthMultiplier:  v.GetInt("width-multiplier"),
		CooldownPeriod:   v.GetDuration("cooldown"),
		VolatilityWindow: v.GetDuration("volatility-window"),
		Checkpoint:       v.GetString("checkpoint"),
		PGDSN:            v.GetString("pg-dsn"),
		AuditOut:         v.GetString("audit-out"),
		LogLevel:         v.GetString("log-level"),
	}

	var err error
	if cfg.BufferPct, err = parsePercent(v.GetString("buffer-pct")); err != nil {
		return Config{}, fmt.Errorf("buffer-pct: %w", err)
	}
	if cfg.TargetPct, err = parsePercent(v.GetString("target-pct")); err != nil {
		return Config{}, fmt.Errorf("target-pct: %w", err)
	}
	if cfg.SlippageTolerance, err = parsePercent(v.GetString("slippage-tolerance")); err != nil {
		return Config{}, fmt.Errorf("slippage-tolerance: %w", err)
	}
	if cfg.MaxPriceImpact, err = parsePercent(v.GetString("max-price-impact")); err != nil {
		return Config{}, fmt.Errorf("max-price-impact: %w", err)
	}
	if cfg.VolatilityCeiling, err = parsePercent(v.GetString("volatility-ceiling")); err != nil {
		return Config{}, fmt.Errorf("volatility-ceiling: %w", err)
	}
	if cfg.MaxValueDrift, err = parsePercent(v.GetString("max-value-drift")); err != nil {
		return Config{}, fmt.Errorf("max-value-drift: %w", err)
	}
	if cfg.RewardUSDThreshold, err = parseRat(v.GetString("reward-usd-threshold")); err != nil {
		return Config{}, fmt.Errorf("reward-usd-threshold: %w", err)
	}
	if cfg.MinZapAmount, err = parseAmount(v.GetString("min-zap-amount")); err != nil {
		return Config{}, fmt.Errorf("min-zap-amount: %w", err)
	}

	return cfg, nil
}

// Validate checks values that would make the engine misbehave. Failures here
// are fatal at startup.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll-interval must be positive")
	}
	if c.WidthMultiplier <= 0 {
		return fmt.Errorf("width-multiplier must be positive")
	}
	if c.SlippageTolerance == nil || c.SlippageTolerance.Sign() < 0 || c.SlippageTolerance.Cmp(one) >= 0 {
		return fmt.Errorf("slippage-tolerance must be in [0, 1)")
	}
	if c.MaxPriceImpact == nil || c.MaxPriceImpact.Sign() < 0 || c.MaxPriceImpact.Cmp(one) >= 0 {
		return fmt.Errorf("max-price-impact must be in [0, 1)")
	}
	if c.BufferPct.Sign() < 0 || c.TargetPct.Sign() < 0 {
		return fmt.Errorf("buffer-pct and target-pct must not be negative")
	}
	if c.VolatilityCeiling.Sign() < 0 {
		return fmt.Errorf("volatility-ceiling must not be negative")
	}
	return nil
}

var one = big.NewRat(1, 1)

// parsePercent parses "1%", "0.5%", or a bare fraction like "0.01" into an
// exact rational.
func parsePercent(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Rat), nil
	}
	divisor := big.NewRat(1, 1)
	if strings.HasSuffix(s, "%") {
		s = strings.TrimSuffix(s, "%")
		divisor = big.NewRat(100, 1)
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid percentage %q", s)
	}
	return r.Quo(r, divisor), nil
}

func parseRat(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Rat), nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return r, nil
}

func parseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}
