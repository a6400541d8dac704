package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	x402 "github.com/xignet/x402/go"
)

// FetchInvoice retrieves the invoice a legacy challenge points at and rejects
// expired invoices.
func FetchInvoice(ctx context.Context, challenge *LegacyChallenge, fetcher x402.Fetcher) (*x402.InvoicePayload, error) {
	return fetchInvoiceAt(ctx, challenge.InvoiceURL, fetcher, time.Now())
}

func fetchInvoiceAt(ctx context.Context, url string, fetcher x402.Fetcher, now time.Time) (*x402.InvoicePayload, error) {
	if fetcher == nil {
		return nil, x402.NewProtocolError("No fetch implementation available", nil)
	}

	resp, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invoice: %w", err)
	}
	if !resp.OK {
		return nil, x402.NewProtocolError(fmt.Sprintf("Unable to fetch invoice: HTTP %d", resp.Status), map[string]interface{}{"status": resp.Status})
	}

	var invoice x402.InvoicePayload
	if err := json.Unmarshal(resp.Body, &invoice); err != nil {
		return nil, x402.NewProtocolError("Invalid invoice JSON payload", nil).WithCause(err)
	}

	expiry, err := time.Parse(time.RFC3339Nano, invoice.Expiry)
	if err != nil {
		return nil, x402.NewProtocolError("Invalid x402 field: expiry must be an RFC 3339 timestamp", x402.FieldDetails("expiry", "RFC 3339", invoice.Expiry)).WithCause(err)
	}
	if !expiry.After(now) {
		return nil, x402.NewInvoiceExpiredError("")
	}

	return &invoice, nil
}

// ValidateInvoiceSignature asks the trust store whether the invoice is signed
// by its merchant.
func ValidateInvoiceSignature(ctx context.Context, invoice x402.InvoicePayload, store x402.InvoiceTrustStore) error {
	if store == nil {
		return x402.NewProtocolError("No invoice trust store available", nil)
	}
	valid, err := store.VerifyInvoiceSignature(ctx, invoice)
	if err != nil {
		return fmt.Errorf("failed to verify invoice signature: %w", err)
	}
	if !valid {
		return x402.NewInvoiceSignatureInvalidError("")
	}
	return nil
}
