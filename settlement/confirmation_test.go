package settlement

import (
	"context"
	"errors"
	"testing"

	x402 "github.com/xignet/x402/go"
)

type staticProofProvider struct {
	ok  bool
	err error
}

func (p staticProofProvider) VerifyProof(context.Context, x402.SettlementProof) (bool, error) {
	return p.ok, p.err
}

func TestMapProofToOrderConfirmation(t *testing.T) {
	input := testInput()
	input.Proof.ConfirmedAt = "2026-01-01T00:01:00Z"

	c := MapProofToOrderConfirmation(input.Proof, input.Invoice, nil)
	if c.OrderID != "order_1" || c.InvoiceID != "inv_1" || c.Status != "confirmed" {
		t.Errorf("Unexpected confirmation: %+v", c)
	}
	if c.SettlementTxHash != "0xproof" || c.ConfirmedAt != "2026-01-01T00:01:00Z" {
		t.Errorf("Expected proof values, got %+v", c)
	}
	if c.SettlementReceiptID != "" || c.AuditLogID != "" || c.IdempotencyKey != "" {
		t.Errorf("Expected receipt fields to be empty without a receipt, got %+v", c)
	}

	receipt := &x402.SettlementReceipt{ReceiptID: "r1", TxHash: "0xreceipt", AuditLogID: "a:b", IdempotencyKey: "k"}
	c = MapProofToOrderConfirmation(input.Proof, input.Invoice, receipt)
	if c.SettlementTxHash != "0xreceipt" || c.SettlementReceiptID != "r1" || c.AuditLogID != "a:b" || c.IdempotencyKey != "k" {
		t.Errorf("Expected receipt values to take precedence, got %+v", c)
	}
}

func TestVerifySettlementProof(t *testing.T) {
	ctx := context.Background()
	proof := testInput().Proof

	if err := VerifySettlementProof(ctx, proof, staticProofProvider{ok: true}); err != nil {
		t.Errorf("Expected valid proof, got %v", err)
	}
	if err := VerifySettlementProof(ctx, proof, staticProofProvider{}); !errors.Is(err, x402.ErrSettlementProofInvalid) {
		t.Errorf("Expected settlement proof invalid, got %v", err)
	}

	cause := errors.New("rpc down")
	err := VerifySettlementProof(ctx, proof, staticProofProvider{err: cause})
	if !errors.Is(err, x402.ErrSettlementProofInvalid) || !errors.Is(err, cause) {
		t.Errorf("Expected wrapped provider error, got %v", err)
	}

	if err := VerifySettlementProof(ctx, proof, nil); !errors.Is(err, x402.ErrProtocolCompatibility) {
		t.Errorf("Expected protocol error for nil provider, got %v", err)
	}
}

func TestRecommendedAction(t *testing.T) {
	var nilOpts *ExecutionOptions
	if got := nilOpts.RecommendedAction(x402.ReasonSettleCallFailed); got != "manual_review_settle_call_failed" {
		t.Errorf("Unexpected default action %q", got)
	}

	opts := &ExecutionOptions{
		RunbookPolicyID:    "rb",
		RecommendedActions: map[x402.ReasonCode]string{x402.ReasonFinalityNotConfirmed: "wait_and_recheck"},
	}
	d := opts.Directive(x402.ReasonFinalityNotConfirmed)
	if d.RecommendedAction != "wait_and_recheck" || d.RunbookPolicyID != "rb" || !d.ManualActionRequired {
		t.Errorf("Unexpected directive %+v", d)
	}
	if got := opts.RecommendedAction(x402.ReasonReorgDetected); got != "manual_review_reorg_detected" {
		t.Errorf("Expected generated action for unset code, got %q", got)
	}
}

func TestCheckRecord(t *testing.T) {
	receipt := x402.SettlementReceipt{
		ReceiptID: "r", InvoiceID: "i", IdempotencyKey: "k", TTMHash: testTTMHash,
		VerifyResult: VerifyResultApproved, SettleResult: SettleResultSettled,
		TxHash: "0x1", AuditLogID: "v:r", CreatedAt: "t",
	}
	record := x402.SettlementExecutionRecord{
		Receipt:      receipt,
		Confirmation: MapProofToOrderConfirmation(x402.SettlementProof{ConfirmedAt: "t"}, x402.InvoicePayload{InvoiceID: "i", OrderRef: "o"}, &receipt),
	}
	if err := checkRecord(record); err != nil {
		t.Fatalf("Expected valid record, got %v", err)
	}

	record.Confirmation.OrderID = ""
	if err := checkRecord(record); !errors.Is(err, x402.ErrProtocolCompatibility) {
		t.Errorf("Expected schema failure for empty order id, got %v", err)
	}

	bad := receipt
	bad.SettleResult = "failed"
	record.Receipt = bad
	if err := checkRecord(record); !errors.Is(err, x402.ErrProtocolCompatibility) {
		t.Errorf("Expected contract failure, got %v", err)
	}
}
