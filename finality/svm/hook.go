// Package svm checks settlement finality on Solana through signature statuses.
package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/xignet/x402/go"
)

// SignatureStatusReader is the subset of *rpc.Client the hook needs
type SignatureStatusReader interface {
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

var _ SignatureStatusReader = (*rpc.Client)(nil)

// Hook is an x402.FinalityHook that requires the "finalized" commitment
type Hook struct {
	client        SignatureStatusReader
	searchHistory bool
}

// Option configures a Hook
type Option func(*Hook)

// WithHistorySearch asks the node to search beyond its recent status cache
func WithHistorySearch() Option {
	return func(h *Hook) {
		h.searchHistory = true
	}
}

// NewHook creates a hook reading from client
func NewHook(client SignatureStatusReader, opts ...Option) *Hook {
	h := &Hook{client: client}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRPCHook creates a hook against a Solana JSON-RPC endpoint
func NewRPCHook(rpcURL string, opts ...Option) *Hook {
	return NewHook(rpc.New(rpcURL), opts...)
}

// CheckFinality implements x402.FinalityHook
func (h *Hook) CheckFinality(ctx context.Context, fc x402.FinalityContext) (*x402.FinalityResult, error) {
	signature, err := solana.SignatureFromBase58(fc.TxHash)
	if err != nil {
		return nil, x402.NewProtocolError(
			"Invalid Solana transaction signature",
			x402.FieldDetails("txHash", "base58 signature", fc.TxHash),
		)
	}

	out, err := h.client.GetSignatureStatuses(ctx, h.searchHistory, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return &x402.FinalityResult{Finalized: false, Reason: "transaction not found"}, nil
	}

	status := out.Value[0]
	if status.Err != nil {
		return &x402.FinalityResult{Finalized: false, Reason: fmt.Sprintf("transaction failed: %v", status.Err)}, nil
	}
	if status.ConfirmationStatus != rpc.ConfirmationStatusFinalized {
		return &x402.FinalityResult{
			Finalized: false,
			Reason:    fmt.Sprintf("commitment %s at slot %d", status.ConfirmationStatus, status.Slot),
		}, nil
	}
	return &x402.FinalityResult{Finalized: true}, nil
}

var _ x402.FinalityHook = (*Hook)(nil)
