package settlement

import (
	"context"

	x402 "github.com/xignet/x402/go"
)

// MapProofToOrderConfirmation builds the merchant-facing confirmation for a
// settled proof. When receipt is non-nil its tx hash, id, audit log id and
// idempotency key take precedence.
func MapProofToOrderConfirmation(proof x402.SettlementProof, invoice x402.InvoicePayload, receipt *x402.SettlementReceipt) x402.OrderConfirmation {
	confirmation := x402.OrderConfirmation{
		OrderID:          invoice.OrderRef,
		InvoiceID:        invoice.InvoiceID,
		Status:           ConfirmationStatus,
		ConfirmedAt:      proof.ConfirmedAt,
		SettlementTxHash: proof.TxHash,
	}

	if receipt != nil {
		confirmation.SettlementTxHash = receipt.TxHash
		confirmation.SettlementReceiptID = receipt.ReceiptID
		confirmation.AuditLogID = receipt.AuditLogID
		confirmation.IdempotencyKey = receipt.IdempotencyKey
	}
	return confirmation
}

// VerifySettlementProof asks provider to validate proof.
func VerifySettlementProof(ctx context.Context, proof x402.SettlementProof, provider x402.SettlementProofProvider) error {
	if provider == nil {
		return x402.NewProtocolError("settlement proof provider is required", nil)
	}
	ok, err := provider.VerifyProof(ctx, proof)
	if err != nil {
		return x402.NewSettlementProofInvalidError("", nil).WithCause(err)
	}
	if !ok {
		return x402.NewSettlementProofInvalidError("", x402.FieldDetails("txHash", "", proof.TxHash))
	}
	return nil
}
