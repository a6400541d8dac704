package settlement

import (
	"encoding/json"

	"github.com/xignet/x402/go/extensions/idempotency"
)

type proofFingerprint struct {
	TxHash    string      `json:"txHash"`
	ChainID   string      `json:"chainId"`
	Payer     string      `json:"payer"`
	Payee     string      `json:"payee"`
	Amount    json.Number `json:"amount"`
	ProofType string      `json:"proofType"`
}

type requestFingerprint struct {
	InvoiceID string           `json:"invoiceId"`
	OrderRef  string           `json:"orderRef"`
	TTMHash   string           `json:"ttmHash"`
	Proof     proofFingerprint `json:"proof"`
}

// fingerprint identifies what a settlement request would do. Two requests
// under one idempotency key must match to replay. ConfirmedAt is excluded
// since the facilitator supplies it.
func fingerprint(input ExecuteInput) (string, error) {
	amount := input.Proof.Amount
	if amount == "" {
		amount = "0"
	}
	return idempotency.Fingerprint(requestFingerprint{
		InvoiceID: input.Invoice.InvoiceID,
		OrderRef:  input.Invoice.OrderRef,
		TTMHash:   input.TTMHash,
		Proof: proofFingerprint{
			TxHash:    input.Proof.TxHash,
			ChainID:   input.Proof.ChainID,
			Payer:     input.Proof.Payer,
			Payee:     input.Proof.Payee,
			Amount:    amount,
			ProofType: input.Proof.ProofType,
		},
	})
}
