// Package price aggregates asset prices from multiple sources into one
// provider.PriceProvider.
package price

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/provider"
)

// Source is one upstream price feed with a relative weight.
type Source struct {
	Name     string
	Provider provider.PriceProvider
	Weight   *big.Rat
}

// Weighted averages prices across sources, weighted by each source's share
// of the total weight of sources that answered. A source that errors is
// skipped; every source erroring yields ErrNoPriceAvailable.
type Weighted struct {
	sources []Source
	logger  *zap.Logger

	ttl   time.Duration
	now   func() time.Time
	mu    sync.Mutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	price   *big.Rat
	fetched time.Time
}

// NewWeighted builds a weighted provider. ttl of zero disables caching;
// logger and now may be nil.
func NewWeighted(sources []Source, ttl time.Duration, logger *zap.Logger, now func() time.Time) (*Weighted, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one price source is required")
	}
	for _, s := range sources {
		if s.Provider == nil {
			return nil, fmt.Errorf("price source %q has no provider", s.Name)
		}
		if s.Weight == nil || s.Weight.Sign() <= 0 {
			return nil, fmt.Errorf("price source %q needs a positive weight", s.Name)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Weighted{
		sources: sources,
		logger:  logger,
		ttl:     ttl,
		now:     now,
		cache:   make(map[string]cachedPrice),
	}, nil
}

// Price returns the weighted USD price for assetID.
func (w *Weighted) Price(ctx context.Context, assetID string) (*big.Rat, error) {
	if w.ttl > 0 {
		w.mu.Lock()
		entry, ok := w.cache[assetID]
		w.mu.Unlock()
		if ok && w.now().Sub(entry.fetched) < w.ttl {
			return new(big.Rat).Set(entry.price), nil
		}
	}

	sum := new(big.Rat)
	totalWeight := new(big.Rat)
	answered := 0
	for _, s := range w.sources {
		p, err := s.Provider.Price(ctx, assetID)
		if err != nil {
			w.logger.Debug("price source failed",
				zap.String("source", s.Name),
				zap.String("asset", assetID),
				zap.Error(err),
			)
			continue
		}
		if p == nil || p.Sign() <= 0 {
			w.logger.Warn("price source returned non-positive price",
				zap.String("source", s.Name),
				zap.String("asset", assetID),
			)
			continue
		}
		sum.Add(sum, new(big.Rat).Mul(p, s.Weight))
		totalWeight.Add(totalWeight, s.Weight)
		answered++
	}
	if answered == 0 {
		return nil, fmt.Errorf("%w: asset %s", provider.ErrNoPriceAvailable, assetID)
	}

	result := new(big.Rat).Quo(sum, totalWeight)
	if w.ttl > 0 {
		w.mu.Lock()
		w.cache[assetID] = cachedPrice{price: new(big.Rat).Set(result), fetched: w.now()}
		w.mu.Unlock()
	}
	return result, nil
}

// Static serves fixed prices from a map. Used for tests and dry runs.
type Static struct {
	prices map[string]*big.Rat
}

func NewStatic(prices map[string]*big.Rat) *Static {
	return &Static{prices: prices}
}

func (s *Static) Price(_ context.Context, assetID string) (*big.Rat, error) {
	p, ok := s.prices[assetID]
	if !ok {
		return nil, fmt.Errorf("%w: asset %s", provider.ErrNoPriceAvailable, assetID)
	}
	return new(big.Rat).Set(p), nil
}
