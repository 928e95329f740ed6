package univ3

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/model"
	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/provider"
)

// ContractCaller is the read surface the providers need. *chain.Client
// satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PoolProvider reads pool state via eth_call. It implements
// provider.PoolProvider.
type PoolProvider struct {
	caller ContractCaller

	mu        sync.Mutex
	decimals  map[string]uint8
	immutable map[string]poolImmutables
}

type poolImmutables struct {
	token0      string
	token1      string
	fee         uint32
	tickSpacing int
	decimals0   uint8
	decimals1   uint8
}

func NewPoolProvider(caller ContractCaller) *PoolProvider {
	return &PoolProvider{
		caller:    caller,
		decimals:  make(map[string]uint8),
		immutable: make(map[string]poolImmutables),
	}
}

func call(ctx context.Context, caller ContractCaller, contract string, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := common.HexToAddress(contract)
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// Pool fetches the pool's slot0 and fee growth, with immutables and token
// decimals cached after the first read.
func (p *PoolProvider) Pool(ctx context.Context, poolID string) (model.Pool, error) {
	parsed, err := PoolABI()
	if err != nil {
		return model.Pool{}, err
	}

	imm, err := p.immutables(ctx, poolID, parsed)
	if err != nil {
		return model.Pool{}, err
	}

	slot0, err := call(ctx, p.caller, poolID, parsed, "slot0")
	if err != nil {
		return model.Pool{}, err
	}
	sqrtPrice, ok := slot0[0].(*big.Int)
	if !ok {
		return model.Pool{}, fmt.Errorf("slot0: unexpected sqrtPriceX96 type %T", slot0[0])
	}
	tick, ok := slot0[1].(*big.Int)
	if !ok {
		return model.Pool{}, fmt.Errorf("slot0: unexpected tick type %T", slot0[1])
	}

	growth0, err := call(ctx, p.caller, poolID, parsed, "feeGrowthGlobal0X128")
	if err != nil {
		return model.Pool{}, err
	}
	growth1, err := call(ctx, p.caller, poolID, parsed, "feeGrowthGlobal1X128")
	if err != nil {
		return model.Pool{}, err
	}

	return model.Pool{
		ID:           poolID,
		AssetX:       imm.token0,
		AssetY:       imm.token1,
		DecimalsX:    imm.decimals0,
		DecimalsY:    imm.decimals1,
		Fee:          imm.fee,
		TickSpacing:  imm.tickSpacing,
		CurrentTick:  int(tick.Int64()),
		SqrtPriceX96: sqrtPrice,
		FeeGrowthX:   growth0[0].(*big.Int),
		FeeGrowthY:   growth1[0].(*big.Int),
	}, nil
}

func (p *PoolProvider) immutables(ctx context.Context, poolID string, parsed abi.ABI) (poolImmutables, error) {
	p.mu.Lock()
	imm, ok := p.immutable[poolID]
	p.mu.Unlock()
	if ok {
		return imm, nil
	}

	token0, err := call(ctx, p.caller, poolID, parsed, "token0")
	if err != nil {
		return poolImmutables{}, err
	}
	token1, err := call(ctx, p.caller, poolID, parsed, "token1")
	if err != nil {
		return poolImmutables{}, err
	}
	fee, err := call(ctx, p.caller, poolID, parsed, "fee")
	if err != nil {
		return poolImmutables{}, err
	}
	spacing, err := call(ctx, p.caller, poolID, parsed, "tickSpacing")
	if err != nil {
		return poolImmutables{}, err
	}

	imm = poolImmutables{
		token0:      strings.ToLower(token0[0].(common.Address).Hex()),
		token1:      strings.ToLower(token1[0].(common.Address).Hex()),
		fee:         uint32(fee[0].(*big.Int).Uint64()),
		tickSpacing: int(spacing[0].(*big.Int).Int64()),
	}
	if imm.decimals0, err = p.tokenDecimals(ctx, imm.token0); err != nil {
		return poolImmutables{}, err
	}
	if imm.decimals1, err = p.tokenDecimals(ctx, imm.token1); err != nil {
		return poolImmutables{}, err
	}

	p.mu.Lock()
	p.immutable[poolID] = imm
	p.mu.Unlock()
	return imm, nil
}

func (p *PoolProvider) tokenDecimals(ctx context.Context, token string) (uint8, error) {
	p.mu.Lock()
	d, ok := p.decimals[token]
	p.mu.Unlock()
	if ok {
		return d, nil
	}

	parsed, err := ERC20ABI()
	if err != nil {
		return 0, err
	}
	out, err := call(ctx, p.caller, token, parsed, "decimals")
	if err != nil {
		return 0, fmt.Errorf("decimals of %s: %w", token, err)
	}
	d, ok = out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals of %s: unexpected type %T", token, out[0])
	}

	p.mu.Lock()
	p.decimals[token] = d
	p.mu.Unlock()
	return d, nil
}

// PositionProvider reads positions from the position manager and, when a
// reward distributor is configured, their pending rewards. It implements
// provider.PositionProvider.
type PositionProvider struct {
	caller          ContractCaller
	positionManager string
	rewarder        string
	pools           *PoolProvider
}

// NewPositionProvider wires a provider. rewarder may be empty when the
// deployment carries no reward distributor.
func NewPositionProvider(caller ContractCaller, positionManager, rewarder string, pools *PoolProvider) *PositionProvider {
	return &PositionProvider{caller: caller, positionManager: positionManager, rewarder: rewarder, pools: pools}
}

// Position fetches one position by token id.
func (p *PositionProvider) Position(ctx context.Context, positionID string) (model.Position, error) {
	id, ok := new(big.Int).SetString(positionID, 10)
	if !ok {
		return model.Position{}, fmt.Errorf("position id %q is not a token id", positionID)
	}
	raw, err := p.fetch(ctx, id)
	if err != nil {
		return model.Position{}, err
	}
	if raw.Rewards, err = p.pendingRewards(ctx, id); err != nil {
		return model.Position{}, err
	}
	return raw.Position, nil
}

// LargestPosition scans the owner's positions in the pool and returns the
// one with the most liquidity. ok is false when the owner has no position
// with liquidity in the pool.
func (p *PositionProvider) LargestPosition(ctx context.Context, owner, poolID string) (model.Position, bool, error) {
	parsed, err := PositionManagerABI()
	if err != nil {
		return model.Position{}, false, err
	}

	pool, err := p.pools.Pool(ctx, poolID)
	if err != nil {
		return model.Position{}, false, err
	}

	balOut, err := call(ctx, p.caller, p.positionManager, parsed, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return model.Position{}, false, err
	}
	balance := balOut[0].(*big.Int).Int64()

	var best rawPosition
	var bestID *big.Int
	found := false
	for i := int64(0); i < balance; i++ {
		idOut, err := call(ctx, p.caller, p.positionManager, parsed, "tokenOfOwnerByIndex", common.HexToAddress(owner), big.NewInt(i))
		if err != nil {
			return model.Position{}, false, err
		}
		id := idOut[0].(*big.Int)
		raw, err := p.fetch(ctx, id)
		if err != nil {
			return model.Position{}, false, err
		}
		if raw.Liquidity.Sign() == 0 {
			continue
		}
		if !raw.matchesPool(pool) {
			continue
		}
		raw.Owner = owner
		raw.PoolID = poolID
		if !found || raw.Liquidity.Cmp(best.Liquidity) > 0 {
			best = raw
			bestID = id
			found = true
		}
	}
	if !found {
		return model.Position{}, false, nil
	}
	if best.Rewards, err = p.pendingRewards(ctx, bestID); err != nil {
		return model.Position{}, false, err
	}
	return best.Position, true, nil
}

// pendingRewards asks the distributor what the position has accrued across
// its reward streams. Streams with nothing pending are dropped.
func (p *PositionProvider) pendingRewards(ctx context.Context, id *big.Int) ([]model.RewardOwed, error) {
	if p.rewarder == "" {
		return nil, nil
	}
	parsed, err := RewarderABI()
	if err != nil {
		return nil, err
	}
	tokensOut, err := call(ctx, p.caller, p.rewarder, parsed, "rewardTokens")
	if err != nil {
		return nil, fmt.Errorf("reward tokens: %w", err)
	}
	tokens, ok := tokensOut[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("rewardTokens: unexpected type %T", tokensOut[0])
	}

	var rewards []model.RewardOwed
	for _, token := range tokens {
		owedOut, err := call(ctx, p.caller, p.rewarder, parsed, "pendingReward", id, token)
		if err != nil {
			return nil, fmt.Errorf("pending reward %s: %w", token.Hex(), err)
		}
		owed := owedOut[0].(*big.Int)
		if owed.Sign() <= 0 {
			continue
		}
		asset := strings.ToLower(token.Hex())
		decimals, err := p.pools.tokenDecimals(ctx, asset)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, model.RewardOwed{Asset: asset, Decimals: decimals, Owed: owed})
	}
	return rewards, nil
}

// rawPosition pairs a decoded position with the pool identity fields the
// manager stores alongside it.
type rawPosition struct {
	model.Position
	token0 string
	token1 string
	fee    uint32
}

func (r rawPosition) matchesPool(pool model.Pool) bool {
	return strings.EqualFold(r.token0, pool.AssetX) &&
		strings.EqualFold(r.token1, pool.AssetY) &&
		r.fee == pool.Fee
}

func (p *PositionProvider) fetch(ctx context.Context, id *big.Int) (rawPosition, error) {
	parsed, err := PositionManagerABI()
	if err != nil {
		return rawPosition{}, err
	}
	out, err := call(ctx, p.caller, p.positionManager, parsed, "positions", id)
	if err != nil {
		return rawPosition{}, fmt.Errorf("position %s: %w", id, err)
	}

	return rawPosition{
		Position: model.Position{
			ID:        id.String(),
			TickLower: int(out[5].(*big.Int).Int64()),
			TickUpper: int(out[6].(*big.Int).Int64()),
			Liquidity: out[7].(*big.Int),
			OwedFeesX: out[10].(*big.Int),
			OwedFeesY: out[11].(*big.Int),
		},
		token0: strings.ToLower(out[2].(common.Address).Hex()),
		token1: strings.ToLower(out[3].(common.Address).Hex()),
		fee:    uint32(out[4].(*big.Int).Uint64()),
	}, nil
}

var _ provider.PoolProvider = (*PoolProvider)(nil)
var _ provider.PositionProvider = (*PositionProvider)(nil)
