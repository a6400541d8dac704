// Package evm checks settlement finality on EVM chains through a JSON-RPC node.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	x402 "github.com/xignet/x402/go"
)

// DefaultConfirmations is the block depth required when no option is given
const DefaultConfirmations uint64 = 12

// ChainReader is the subset of *ethclient.Client the hook needs
type ChainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ ChainReader = (*ethclient.Client)(nil)

// ReorgFunc is invoked once when a reorg is reported for a settlement
type ReorgFunc func(ctx context.Context, fc x402.FinalityContext) error

// Hook is an x402.FinalityHook backed by transaction receipts
type Hook struct {
	client        ChainReader
	confirmations uint64
	finalizedTag  bool
	onReorg       ReorgFunc
}

// Option configures a Hook
type Option func(*Hook)

// WithConfirmations sets the block depth (inclusive of the settlement block)
// required before a transaction counts as final
func WithConfirmations(n uint64) Option {
	return func(h *Hook) {
		if n > 0 {
			h.confirmations = n
		}
	}
}

// WithFinalizedTag uses the node's "finalized" block instead of a fixed depth
func WithFinalizedTag() Option {
	return func(h *Hook) {
		h.finalizedTag = true
	}
}

// WithReorgHandler registers fn as the reorg callback
func WithReorgHandler(fn ReorgFunc) Option {
	return func(h *Hook) {
		h.onReorg = fn
	}
}

// NewHook creates a hook reading from client
func NewHook(client ChainReader, opts ...Option) *Hook {
	h := &Hook{
		client:        client,
		confirmations: DefaultConfirmations,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Dial connects to an EVM JSON-RPC endpoint
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC %s: %w", url, err)
	}
	return client, nil
}

// CheckFinality implements x402.FinalityHook
func (h *Hook) CheckFinality(ctx context.Context, fc x402.FinalityContext) (*x402.FinalityResult, error) {
	txHash, err := parseTxHash(fc.TxHash)
	if err != nil {
		return nil, err
	}

	receipt, err := h.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &x402.FinalityResult{Finalized: false, Reason: "transaction not found"}, nil
		}
		return nil, fmt.Errorf("failed to fetch receipt for %s: %w", txHash.Hex(), err)
	}
	if receipt.BlockNumber == nil {
		return &x402.FinalityResult{Finalized: false, Reason: "transaction pending"}, nil
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return &x402.FinalityResult{Finalized: false, Reason: "transaction reverted"}, nil
	}

	// The receipt's block must still be canonical at its height.
	canonical, err := h.client.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &x402.FinalityResult{
				ReorgDetected: true,
				Reason:        fmt.Sprintf("block %s no longer canonical", receipt.BlockNumber),
			}, nil
		}
		return nil, fmt.Errorf("failed to fetch header %s: %w", receipt.BlockNumber, err)
	}
	if canonical.Hash() != receipt.BlockHash {
		return &x402.FinalityResult{
			ReorgDetected: true,
			Reason:        fmt.Sprintf("block hash mismatch at height %s", receipt.BlockNumber),
		}, nil
	}

	if h.finalizedTag {
		return h.checkFinalizedTag(ctx, receipt.BlockNumber)
	}
	return h.checkDepth(ctx, receipt.BlockNumber)
}

func (h *Hook) checkDepth(ctx context.Context, block *big.Int) (*x402.FinalityResult, error) {
	head, err := h.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest header: %w", err)
	}

	depth := new(big.Int).Sub(head.Number, block)
	depth.Add(depth, big.NewInt(1))
	if depth.Sign() <= 0 || depth.Cmp(new(big.Int).SetUint64(h.confirmations)) < 0 {
		return &x402.FinalityResult{
			Finalized: false,
			Reason:    fmt.Sprintf("%s of %d confirmations", depth, h.confirmations),
		}, nil
	}
	return &x402.FinalityResult{Finalized: true}, nil
}

func (h *Hook) checkFinalizedTag(ctx context.Context, block *big.Int) (*x402.FinalityResult, error) {
	finalized, err := h.client.HeaderByNumber(ctx, big.NewInt(int64(rpc.FinalizedBlockNumber)))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch finalized header: %w", err)
	}
	if finalized.Number.Cmp(block) < 0 {
		return &x402.FinalityResult{
			Finalized: false,
			Reason:    fmt.Sprintf("finalized head %s behind block %s", finalized.Number, block),
		}, nil
	}
	return &x402.FinalityResult{Finalized: true}, nil
}

// OnReorg implements x402.ReorgHandler
func (h *Hook) OnReorg(ctx context.Context, fc x402.FinalityContext) error {
	if h.onReorg == nil {
		return nil
	}
	return h.onReorg(ctx, fc)
}

func parseTxHash(value string) (common.Hash, error) {
	if !strings.HasPrefix(value, "0x") {
		value = "0x" + value
	}
	raw, err := hexutil.Decode(value)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, x402.NewProtocolError(
			"Invalid EVM transaction hash",
			x402.FieldDetails("txHash", "32-byte hex", value),
		)
	}
	return common.BytesToHash(raw), nil
}

var (
	_ x402.FinalityHook = (*Hook)(nil)
	_ x402.ReorgHandler = (*Hook)(nil)
)
