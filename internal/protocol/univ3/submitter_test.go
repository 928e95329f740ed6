package univ3

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/batch"
)

type fakeTxClient struct {
	estimateErr  error
	sent         *types.Transaction
	receipt      *types.Receipt
	receiptPolls int
}

func (c *fakeTxClient) ChainID(_ context.Context) (*big.Int, error) {
	return big.NewInt(31337), nil
}

func (c *fakeTxClient) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	if c.estimateErr != nil {
		return 0, c.estimateErr
	}
	return 100_000, nil
}

func (c *fakeTxClient) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return 7, nil
}

func (c *fakeTxClient) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *fakeTxClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.sent = tx
	return nil
}

func (c *fakeTxClient) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	c.receiptPolls++
	if c.receiptPolls < 2 {
		return nil, ethereum.NotFound
	}
	return c.receipt, nil
}

func newTestSubmitter(t *testing.T, client TxClient) *Submitter {
	t.Helper()
	keyFile := filepath.Join(t.TempDir(), "key")
	err := os.WriteFile(keyFile, []byte("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"), 0o600)
	if err != nil {
		t.Fatalf("write key: %v", err)
	}
	sub, err := NewSubmitter(context.Background(), client, "0x1000000000000000000000000000000000000004", keyFile, zap.NewNop())
	if err != nil {
		t.Fatalf("new submitter: %v", err)
	}
	sub.pollInterval = time.Millisecond
	return sub
}

func submissionBatch(t *testing.T) *batch.Batch {
	t.Helper()
	b := batch.New()
	call := batch.Call{Target: "0x1000000000000000000000000000000000000001", Data: []byte{1, 2, 3}}
	if _, err := b.Append(batch.OpClosePosition, call, nil, nil, "burn"); err != nil {
		t.Fatalf("append: %v", err)
	}
	return b
}

func TestSubmitWaitsForReceipt(t *testing.T) {
	client := &fakeTxClient{receipt: &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(5),
	}}
	sub := newTestSubmitter(t, client)

	hash, err := sub.Submit(context.Background(), submissionBatch(t))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if client.sent == nil {
		t.Fatalf("no transaction broadcast")
	}
	if hash != client.sent.Hash().Hex() {
		t.Fatalf("returned hash %s, broadcast hash %s", hash, client.sent.Hash().Hex())
	}
	if client.receiptPolls < 2 {
		t.Fatalf("confirmation should poll until the receipt appears, polled %d times", client.receiptPolls)
	}
}

func TestSubmitReportsOnLedgerRevert(t *testing.T) {
	client := &fakeTxClient{receipt: &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(5),
	}}
	sub := newTestSubmitter(t, client)

	_, err := sub.Submit(context.Background(), submissionBatch(t))
	if err == nil || !strings.Contains(err.Error(), "reverted") {
		t.Fatalf("expected a revert error, got %v", err)
	}
}

func TestSubmitRejectsSimulationFailure(t *testing.T) {
	client := &fakeTxClient{estimateErr: errors.New("execution reverted")}
	sub := newTestSubmitter(t, client)

	_, err := sub.Submit(context.Background(), submissionBatch(t))
	if err == nil || !strings.Contains(err.Error(), "rejected in simulation") {
		t.Fatalf("expected a simulation rejection, got %v", err)
	}
	if client.sent != nil {
		t.Fatalf("a failed simulation must not broadcast")
	}
}
