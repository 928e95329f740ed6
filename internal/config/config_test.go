package config

import (
	"math/big"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestParsePercent(t *testing.T) {
	cases := []struct {
		in   string
		want *big.Rat
	}{
		{"1%", big.NewRat(1, 100)},
		{"0.5%", big.NewRat(1, 200)},
		{"0.01", big.NewRat(1, 100)},
		{"", new(big.Rat)},
		{"100%", big.NewRat(1, 1)},
	}
	for _, tc := range cases {
		got, err := parsePercent(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("parse %q: %s != %s", tc.in, got.RatString(), tc.want.RatString())
		}
	}
}

func TestParsePercentInvalid(t *testing.T) {
	if _, err := parsePercent("abc%"); err == nil {
		t.Fatalf("expected error for invalid percentage")
	}
}

func TestParseAmount(t *testing.T) {
	got, err := parseAmount("123456789012345678901234567890")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.String() != "123456789012345678901234567890" {
		t.Fatalf("amount mismatch: %s", got)
	}
	if _, err := parseAmount("1.5"); err == nil {
		t.Fatalf("expected error for fractional amount")
	}
}

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.String("pool", "", "")
	flags.String("owner", "", "")
	flags.String("strategy", "", "")
	flags.String("slippage-tolerance", "1%", "")
	flags.Duration("cooldown", 30*time.Minute, "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", testFlags())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.PollInterval != 30*time.Second {
		t.Fatalf("poll interval default %s", cfg.PollInterval)
	}
	if cfg.WidthMultiplier != 10 {
		t.Fatalf("width multiplier default %d", cfg.WidthMultiplier)
	}
	if cfg.SlippageTolerance.Cmp(big.NewRat(1, 100)) != 0 {
		t.Fatalf("slippage default %s", cfg.SlippageTolerance.RatString())
	}
	if cfg.MaxValueDrift.Cmp(big.NewRat(1, 100)) != 0 {
		t.Fatalf("drift default %s", cfg.MaxValueDrift.RatString())
	}
}

func TestLoadFlagOverride(t *testing.T) {
	flags := testFlags()
	if err := flags.Set("slippage-tolerance", "2%"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SlippageTolerance.Cmp(big.NewRat(2, 100)) != 0 {
		t.Fatalf("slippage override %s", cfg.SlippageTolerance.RatString())
	}
}

func TestLoadConservativePreset(t *testing.T) {
	flags := testFlags()
	if err := flags.Set("strategy", "conservative"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WidthMultiplier != 20 {
		t.Fatalf("conservative width multiplier %d, want 20", cfg.WidthMultiplier)
	}
	if cfg.CooldownPeriod != time.Hour {
		t.Fatalf("conservative cooldown %s, want 1h", cfg.CooldownPeriod)
	}
}

func TestLoadUnknownPreset(t *testing.T) {
	flags := testFlags()
	if err := flags.Set("strategy", "reckless"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if _, err := Load("", flags); err == nil {
		t.Fatalf("expected error for unknown preset")
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load("", testFlags())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	bad := cfg
	bad.SlippageTolerance = big.NewRat(2, 1)
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for slippage above 100%%")
	}

	bad = cfg
	bad.WidthMultiplier = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for zero width multiplier")
	}
}
