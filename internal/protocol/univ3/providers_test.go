package univ3

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	testPoolAddr  = "0x00000000000000000000000000000000000000a1"
	testPMAddr    = "0x00000000000000000000000000000000000000a2"
	testRWAddr    = "0x00000000000000000000000000000000000000a3"
	testToken0    = "0x00000000000000000000000000000000000000b1"
	testToken1    = "0x00000000000000000000000000000000000000b2"
	testRewardTok = "0x00000000000000000000000000000000000000b3"
	testOwner     = "0x00000000000000000000000000000000000000c1"
)

// scriptedCaller answers eth_calls from a calldata-keyed script and fails
// the test on any call it was not prepared for.
type scriptedCaller struct {
	t         *testing.T
	responses map[string][]byte
}

func newScriptedCaller(t *testing.T) *scriptedCaller {
	return &scriptedCaller{t: t, responses: make(map[string][]byte)}
}

func callKey(contract string, data []byte) string {
	return strings.ToLower(contract) + ":" + common.Bytes2Hex(data)
}

func (c *scriptedCaller) stub(contract string, parsed abi.ABI, method string, outputs []interface{}, args ...interface{}) {
	c.t.Helper()
	data, err := parsed.Pack(method, args...)
	if err != nil {
		c.t.Fatalf("pack %s: %v", method, err)
	}
	ret, err := parsed.Methods[method].Outputs.Pack(outputs...)
	if err != nil {
		c.t.Fatalf("pack %s outputs: %v", method, err)
	}
	c.responses[callKey(contract, data)] = ret
}

func (c *scriptedCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	out, ok := c.responses[callKey(msg.To.Hex(), msg.Data)]
	if !ok {
		c.t.Fatalf("unexpected call to %s with %x", msg.To.Hex(), msg.Data)
	}
	return out, nil
}

func stubPool(t *testing.T, caller *scriptedCaller) {
	t.Helper()
	pool, err := PoolABI()
	if err != nil {
		t.Fatalf("pool abi: %v", err)
	}
	erc20, err := ERC20ABI()
	if err != nil {
		t.Fatalf("erc20 abi: %v", err)
	}

	caller.stub(testPoolAddr, pool, "token0", []interface{}{common.HexToAddress(testToken0)})
	caller.stub(testPoolAddr, pool, "token1", []interface{}{common.HexToAddress(testToken1)})
	caller.stub(testPoolAddr, pool, "fee", []interface{}{big.NewInt(3000)})
	caller.stub(testPoolAddr, pool, "tickSpacing", []interface{}{big.NewInt(60)})
	caller.stub(testPoolAddr, pool, "slot0", []interface{}{
		new(big.Int).Lsh(big.NewInt(1), 96), big.NewInt(0),
		uint16(0), uint16(0), uint16(0), uint8(0), false,
	})
	caller.stub(testPoolAddr, pool, "feeGrowthGlobal0X128", []interface{}{big.NewInt(0)})
	caller.stub(testPoolAddr, pool, "feeGrowthGlobal1X128", []interface{}{big.NewInt(0)})
	caller.stub(testToken0, erc20, "decimals", []interface{}{uint8(6)})
	caller.stub(testToken1, erc20, "decimals", []interface{}{uint8(6)})
}

func stubPositions(t *testing.T, caller *scriptedCaller) {
	t.Helper()
	pm, err := PositionManagerABI()
	if err != nil {
		t.Fatalf("position manager abi: %v", err)
	}

	caller.stub(testPMAddr, pm, "balanceOf", []interface{}{big.NewInt(1)}, common.HexToAddress(testOwner))
	caller.stub(testPMAddr, pm, "tokenOfOwnerByIndex", []interface{}{big.NewInt(77)}, common.HexToAddress(testOwner), big.NewInt(0))
	caller.stub(testPMAddr, pm, "positions", []interface{}{
		big.NewInt(0), common.Address{},
		common.HexToAddress(testToken0), common.HexToAddress(testToken1), big.NewInt(3000),
		big.NewInt(-600), big.NewInt(600),
		new(big.Int).Exp(big.NewInt(10), big.NewInt(15), nil),
		big.NewInt(0), big.NewInt(0),
		big.NewInt(10), big.NewInt(20),
	}, big.NewInt(77))
}

func TestLargestPositionFetchesPendingRewards(t *testing.T) {
	caller := newScriptedCaller(t)
	stubPool(t, caller)
	stubPositions(t, caller)

	rw, err := RewarderABI()
	if err != nil {
		t.Fatalf("rewarder abi: %v", err)
	}
	erc20, err := ERC20ABI()
	if err != nil {
		t.Fatalf("erc20 abi: %v", err)
	}
	// Two streams, one of them empty; only the accruing one survives.
	caller.stub(testRWAddr, rw, "rewardTokens", []interface{}{[]common.Address{
		common.HexToAddress(testRewardTok),
		common.HexToAddress(testToken0),
	}})
	caller.stub(testRWAddr, rw, "pendingReward", []interface{}{big.NewInt(5_000)}, big.NewInt(77), common.HexToAddress(testRewardTok))
	caller.stub(testRWAddr, rw, "pendingReward", []interface{}{big.NewInt(0)}, big.NewInt(77), common.HexToAddress(testToken0))
	caller.stub(testRewardTok, erc20, "decimals", []interface{}{uint8(18)})

	pools := NewPoolProvider(caller)
	positions := NewPositionProvider(caller, testPMAddr, testRWAddr, pools)

	pos, found, err := positions.LargestPosition(context.Background(), testOwner, testPoolAddr)
	if err != nil {
		t.Fatalf("largest position: %v", err)
	}
	if !found {
		t.Fatalf("expected a position")
	}
	if pos.ID != "77" {
		t.Fatalf("position id %s, want 77", pos.ID)
	}
	if len(pos.Rewards) != 1 {
		t.Fatalf("expected one accruing reward stream, got %d", len(pos.Rewards))
	}
	reward := pos.Rewards[0]
	if !strings.EqualFold(reward.Asset, testRewardTok) {
		t.Fatalf("reward asset %s, want %s", reward.Asset, testRewardTok)
	}
	if reward.Owed.Cmp(big.NewInt(5_000)) != 0 || reward.Decimals != 18 {
		t.Fatalf("reward owed %s decimals %d", reward.Owed, reward.Decimals)
	}
}

func TestLargestPositionWithoutDistributorSkipsRewards(t *testing.T) {
	caller := newScriptedCaller(t)
	stubPool(t, caller)
	stubPositions(t, caller)

	pools := NewPoolProvider(caller)
	positions := NewPositionProvider(caller, testPMAddr, "", pools)

	pos, found, err := positions.LargestPosition(context.Background(), testOwner, testPoolAddr)
	if err != nil {
		t.Fatalf("largest position: %v", err)
	}
	if !found {
		t.Fatalf("expected a position")
	}
	if len(pos.Rewards) != 0 {
		t.Fatalf("no distributor configured, rewards should be empty")
	}
}
