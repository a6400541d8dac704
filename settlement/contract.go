package settlement

import (
	"fmt"
	"strings"

	x402 "github.com/xignet/x402/go"
	"github.com/xignet/x402/go/internal/schema"
)

// Receipt result values
const (
	VerifyResultApproved = "approved"
	SettleResultSettled  = "settled"
	ConfirmationStatus   = "confirmed"
)

var executionRecordSchema = schema.MustCompile("settlement execution record", `{
	"type": "object",
	"required": ["confirmation", "receipt"],
	"properties": {
		"confirmation": {
			"type": "object",
			"required": ["orderId", "invoiceId", "status", "confirmedAt", "settlementTxHash", "settlementReceiptId", "auditLogId", "idempotencyKey"],
			"properties": {
				"orderId": {"type": "string", "pattern": "\\S"},
				"invoiceId": {"type": "string", "pattern": "\\S"},
				"status": {"enum": ["confirmed"]},
				"confirmedAt": {"type": "string", "pattern": "\\S"},
				"settlementTxHash": {"type": "string", "pattern": "\\S"},
				"settlementReceiptId": {"type": "string", "pattern": "\\S"},
				"auditLogId": {"type": "string", "pattern": "\\S"},
				"idempotencyKey": {"type": "string", "pattern": "\\S"}
			}
		},
		"receipt": {
			"type": "object",
			"required": ["receiptId", "invoiceId", "idempotencyKey", "ttmHash", "verifyResult", "settleResult", "txHash", "auditLogId", "createdAt"],
			"properties": {
				"receiptId": {"type": "string", "pattern": "\\S"},
				"invoiceId": {"type": "string", "pattern": "\\S"},
				"idempotencyKey": {"type": "string", "pattern": "\\S"},
				"ttmHash": {"type": "string", "pattern": "\\S"},
				"verifyResult": {"enum": ["approved"]},
				"settleResult": {"enum": ["settled"]},
				"txHash": {"type": "string", "pattern": "\\S"},
				"auditLogId": {"type": "string", "pattern": "\\S"},
				"createdAt": {"type": "string", "pattern": "\\S"}
			}
		}
	}
}`)

// requireString rejects empty or whitespace-only values
func requireString(value, field, context string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", x402.NewProtocolError(
			fmt.Sprintf("%s missing required field: %s", context, field),
			x402.FieldDetails(field, "non-empty string", value),
		)
	}
	return value, nil
}

func checkVerifyResponse(resp *x402.FacilitatorVerifyResponse) error {
	if resp == nil {
		return x402.NewProtocolError("facilitator verify response is empty", nil)
	}
	if resp.Status != x402.VerifyApproved && resp.Status != x402.VerifyDeclined {
		return x402.NewProtocolError("facilitator verify response has invalid status",
			x402.FieldDetails("status", "approved|declined", string(resp.Status)))
	}
	if _, err := requireString(resp.VerificationID, "verificationId", "facilitator verify response"); err != nil {
		return err
	}
	_, err := requireString(resp.VerifiedAt, "verifiedAt", "facilitator verify response")
	return err
}

func checkSettleResponse(resp *x402.FacilitatorSettleResponse) error {
	if resp == nil {
		return x402.NewProtocolError("facilitator settle response is empty", nil)
	}
	if resp.Status != x402.SettleSettled && resp.Status != x402.SettleFailed {
		return x402.NewProtocolError("facilitator settle response has invalid status",
			x402.FieldDetails("status", "settled|failed", string(resp.Status)))
	}
	if _, err := requireString(resp.SettlementID, "settlementId", "facilitator settle response"); err != nil {
		return err
	}
	if _, err := requireString(resp.SettledAt, "settledAt", "facilitator settle response"); err != nil {
		return err
	}
	if resp.Status == x402.SettleSettled {
		if _, err := requireString(resp.TxHash, "txHash", "facilitator settle response"); err != nil {
			return err
		}
	}
	return nil
}

func checkReceipt(receipt x402.SettlementReceipt) error {
	fields := []struct{ name, value string }{
		{"receiptId", receipt.ReceiptID},
		{"invoiceId", receipt.InvoiceID},
		{"idempotencyKey", receipt.IdempotencyKey},
		{"ttmHash", receipt.TTMHash},
		{"txHash", receipt.TxHash},
		{"auditLogId", receipt.AuditLogID},
		{"createdAt", receipt.CreatedAt},
	}
	for _, f := range fields {
		if _, err := requireString(f.value, f.name, "settlement receipt"); err != nil {
			return err
		}
	}
	if receipt.VerifyResult != VerifyResultApproved || receipt.SettleResult != SettleResultSettled {
		return x402.NewProtocolError("settlement receipt requires approved verifyResult and settled settleResult", nil)
	}
	return nil
}

// checkRecord validates the full record against its schema before persistence
func checkRecord(record x402.SettlementExecutionRecord) error {
	if err := checkReceipt(record.Receipt); err != nil {
		return err
	}
	result := executionRecordSchema.Validate(record)
	if !result.Valid {
		return x402.NewProtocolError("Settlement record schema validation failed",
			map[string]interface{}{"violations": result.Errors})
	}
	return nil
}
