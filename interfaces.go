package x402

import (
	"context"
	"encoding/json"
)

// FetchResponse is the minimal view of a fetched document
type FetchResponse struct {
	OK     bool
	Status int
	Body   json.RawMessage
}

// Fetcher retrieves JSON documents such as invoices
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResponse, error)
}

// InvoiceTrustStore checks merchant invoice signatures
type InvoiceTrustStore interface {
	VerifyInvoiceSignature(ctx context.Context, invoice InvoicePayload) (bool, error)
}

// AssertionVerifier checks an opaque WebAuthn assertion against a request.
// A nil result with a nil error is a decline.
type AssertionVerifier interface {
	Verify(ctx context.Context, request VerificationRequest, assertion json.RawMessage) (*SignedContext, error)
}

// SettlementProofProvider validates settlement proofs
type SettlementProofProvider interface {
	VerifyProof(ctx context.Context, proof SettlementProof) (bool, error)
}

// FacilitatorAdapter is the external settlement counterparty.
//
// Errors that expose StatusCode() int are classified for retry by status.
// Errors that expose Timeout() bool are always retried.
type FacilitatorAdapter interface {
	Verify(ctx context.Context, request FacilitatorVerifyRequest) (*FacilitatorVerifyResponse, error)
	Settle(ctx context.Context, request FacilitatorSettleRequest) (*FacilitatorSettleResponse, error)
}

// FinalityHook reports whether a settled transaction is final
type FinalityHook interface {
	CheckFinality(ctx context.Context, fc FinalityContext) (*FinalityResult, error)
}

// ReorgHandler is an optional FinalityHook extension invoked once when a reorg
// is detected, before the settlement fails.
type ReorgHandler interface {
	OnReorg(ctx context.Context, fc FinalityContext) error
}

// Function adapters

type FetcherFunc func(ctx context.Context, url string) (*FetchResponse, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (*FetchResponse, error) {
	return f(ctx, url)
}

type AssertionVerifierFunc func(ctx context.Context, request VerificationRequest, assertion json.RawMessage) (*SignedContext, error)

func (f AssertionVerifierFunc) Verify(ctx context.Context, request VerificationRequest, assertion json.RawMessage) (*SignedContext, error) {
	return f(ctx, request, assertion)
}

type FinalityHookFunc func(ctx context.Context, fc FinalityContext) (*FinalityResult, error)

func (f FinalityHookFunc) CheckFinality(ctx context.Context, fc FinalityContext) (*FinalityResult, error) {
	return f(ctx, fc)
}
