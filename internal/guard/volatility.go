package guard

import (
	"math/big"
	"time"
)

// DefaultVolatilityWindow is the observation window used when none is
// configured.
const DefaultVolatilityWindow = 5 * time.Minute

type observation struct {
	at    time.Time
	price *big.Int
}

// Volatility keeps a rolling window of price observations and rejects when
// (max - min) / min over the window exceeds the configured ceiling.
type Volatility struct {
	ceiling *big.Rat
	window  time.Duration
	now     func() time.Time
	obs     []observation
}

// NewVolatility builds a volatility guard. window <= 0 selects
// DefaultVolatilityWindow; now may be nil, defaulting to time.Now.
func NewVolatility(ceiling *big.Rat, window time.Duration, now func() time.Time) *Volatility {
	if window <= 0 {
		window = DefaultVolatilityWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Volatility{ceiling: ceiling, window: window, now: now}
}

// Observe records a price observation at the current time.
func (v *Volatility) Observe(price *big.Int) {
	if price == nil || price.Sign() <= 0 {
		return
	}
	v.obs = append(v.obs, observation{at: v.now(), price: new(big.Int).Set(price)})
	v.prune()
}

// Check evaluates the window. Fewer than two observations pass (fail-open on
// insufficient data); the reason carries the observation count so the audit
// trail shows when a pass was data-starved.
func (v *Volatility) Check() Result {
	v.prune()
	if len(v.obs) < 2 {
		return pass("volatility: insufficient data (%d observations)", len(v.obs))
	}

	min := v.obs[0].price
	max := v.obs[0].price
	for _, o := range v.obs[1:] {
		if o.price.Cmp(min) < 0 {
			min = o.price
		}
		if o.price.Cmp(max) > 0 {
			max = o.price
		}
	}

	swing := new(big.Rat).SetFrac(new(big.Int).Sub(max, min), min)
	if v.ceiling != nil && swing.Cmp(v.ceiling) > 0 {
		return reject("volatility: swing %s exceeds ceiling %s over %s (%d observations)",
			swing.FloatString(6), v.ceiling.RatString(), v.window, len(v.obs))
	}
	return pass("volatility: swing %s within ceiling (%d observations)", swing.FloatString(6), len(v.obs))
}

func (v *Volatility) prune() {
	cutoff := v.now().Add(-v.window)
	kept := v.obs[:0]
	for _, o := range v.obs {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	v.obs = kept
}
