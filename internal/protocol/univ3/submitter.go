package univ3

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/hannesmeris21702/Copy-flowx-sub000/internal/batch"
)

// receiptPollInterval paces the confirmation poll after a broadcast.
const receiptPollInterval = 2 * time.Second

// TxClient is the ledger surface the submitter needs. *chain.Client
// satisfies it.
type TxClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Submitter signs and broadcasts a batch as a single executor transaction,
// then waits for the receipt. It implements rebalance.BatchSubmitter.
type Submitter struct {
	client       TxClient
	executor     common.Address
	key          *ecdsa.PrivateKey
	from         common.Address
	chainID      *big.Int
	logger       *zap.Logger
	pollInterval time.Duration
}

// NewSubmitter loads the signing key and resolves the chain id once.
func NewSubmitter(ctx context.Context, client TxClient, executor, keyFile string, logger *zap.Logger) (*Submitter, error) {
	if executor == "" {
		return nil, fmt.Errorf("executor address is required")
	}
	key, err := crypto.LoadECDSA(keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{
		client:       client,
		executor:     common.HexToAddress(executor),
		key:          key,
		from:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:      chainID,
		logger:       logger,
		pollInterval: receiptPollInterval,
	}, nil
}

type executorCall struct {
	Target       common.Address
	AllowFailure bool
	Value        *big.Int
	CallData     []byte
}

// Submit packs the batch's operations into one aggregate3Value call, signs
// it, and broadcasts it. Merge and transfer bookkeeping operations carry no
// calldata and are skipped; the executor settles balances at the end.
func (s *Submitter) Submit(ctx context.Context, b *batch.Batch) (string, error) {
	parsed, err := ExecutorABI()
	if err != nil {
		return "", err
	}

	var calls []executorCall
	totalValue := new(big.Int)
	for _, op := range b.Operations() {
		if len(op.Call.Data) == 0 {
			continue
		}
		value := op.Call.Value
		if value == nil {
			value = new(big.Int)
		}
		totalValue.Add(totalValue, value)
		calls = append(calls, executorCall{
			Target:   common.HexToAddress(op.Call.Target),
			Value:    value,
			CallData: op.Call.Data,
		})
	}
	if len(calls) == 0 {
		return "", fmt.Errorf("batch contains no ledger calls")
	}

	data, err := parsed.Pack("aggregate3Value", calls)
	if err != nil {
		return "", fmt.Errorf("pack executor call: %w", err)
	}

	msg := ethereum.CallMsg{From: s.from, To: &s.executor, Value: totalValue, Data: data}
	gas, err := s.client.EstimateGas(ctx, msg)
	if err != nil {
		// Estimation simulates the batch; a revert here means the ledger
		// would reject it.
		return "", fmt.Errorf("batch rejected in simulation: %s", DecodeRevert(revertData(err)))
	}

	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &s.executor,
		Value:    totalValue,
		Gas:      gas + gas/5,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}

	hash := signed.Hash().Hex()
	s.logger.Info("batch submitted",
		zap.String("tx_hash", hash),
		zap.Int("calls", len(calls)),
		zap.Uint64("gas_limit", gas+gas/5),
	)

	receipt, err := s.waitMined(ctx, signed.Hash())
	if err != nil {
		return "", fmt.Errorf("confirm %s: %w", hash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("batch reverted on ledger, tx %s", hash)
	}
	s.logger.Info("batch confirmed",
		zap.String("tx_hash", hash),
		zap.Uint64("block", receipt.BlockNumber.Uint64()),
	)
	return hash, nil
}

// waitMined polls for the receipt until the transaction lands or the
// context ends.
func (s *Submitter) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			s.logger.Debug("receipt poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// revertData pulls raw revert bytes out of an RPC error when present.
func revertData(err error) []byte {
	var de interface{ ErrorData() interface{} }
	if !errors.As(err, &de) {
		return nil
	}
	hexStr, ok := de.ErrorData().(string)
	if !ok {
		return nil
	}
	return common.FromHex(hexStr)
}
